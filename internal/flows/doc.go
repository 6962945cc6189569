// Package flows contains the storage orchestration behind every session
// Engine operation.
//
// Each flow (RunLogin, RunRefresh, RunLogout) accepts a typed dependency struct
// and reports its result through a Commit callback invoked while the caller's
// lock is held. Flows read and write session storage but own no state: the
// in-memory session, metrics and audit stay with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import toystory (to avoid import cycles).
//   - Return storage errors: they are reported through Storage.Report and the
//     affected key is treated as absent.
package flows
