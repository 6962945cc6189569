// Package session provides the persisted session storage used by the storefront
// session engine: a tiny key/value contract, a shared in-memory backend with
// per-tab handles, a Redis backend, and the storage-mutation events that keep
// tabs consistent.
//
// # Storage events
//
// Every mutation made through a tab handle is applied first and then published
// as an [Event] stamped with the handle's origin. Watchers receive events from
// every tab, their own included; filtering by origin is the consumer's job.
//
// # Architecture boundaries
//
// This package owns the key names, the [User] model and its encoding. It does
// NOT decide what a missing key means for authentication; that belongs to the
// Engine.
//
// # What this package must NOT do
//
//   - Import toystory, guard, or cart (no upward imports).
//   - Interpret tokens or roles.
//   - Block a writer on a slow watcher.
package session
