// Package internal groups the packages private to toystory.
//
// # Sub-packages
//
//   - audit: session lifecycle events, sinks and the async dispatcher
//   - flows: login, refresh and logout orchestration over session storage
//   - opt: Optional[T] used when normalizing backend DTOs
//
// # What this package must NOT do
//
//   - Be imported by any package outside the toystory module.
package internal
