// Package toystory is the session core of the toy store front end: a per-tab
// session engine kept in sync across tabs through shared storage, plus the
// shopping cart bundled with it in [App].
//
// An [Engine] derives {authenticated, role, user, loading} from the keys in
// its [session.TabStore], logs in through an [AccountService], and refreshes
// itself whenever another tab sharing the storage mutates a session key.
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// toystory is the public surface. It exposes [Engine], [Builder], [App],
// [Config] and value types (SessionSnapshot, MetricsSnapshot). Login, refresh
// and logout orchestration lives in internal/flows and audit delivery in
// internal/audit. Storage backends live in session, the REST client in
// account, route decisions in guard, and the cart in cart.
//
// # What this package must NOT do
//
//   - Return storage errors to callers. Unavailable storage degrades to an
//     unauthenticated read and a logged write.
//   - Import account or guard. Both import this package.
//   - Keep process-wide state. Every [App] is independent.
package toystory
