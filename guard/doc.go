// Package guard decides whether a role-gated route may render for the current
// session.
//
// [Decide] is a pure function of the required roles and the current role.
// [Require] adapts it to net/http: it reads a session snapshot, redirects on
// a negative decision and otherwise stores the snapshot in the request context.
//
// # What this package must NOT do
//
//   - Mutate the session (no login, logout or refresh).
//   - Read session storage directly; it only sees snapshots.
package guard
