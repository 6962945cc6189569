// Package audit delivers session lifecycle events asynchronously.
//
// # Components
//
//   - [Event]: timestamp, type, tab, account, role, outcome and metadata.
//   - [Sink]: event consumer. Channel, JSON-lines and no-op sinks are provided.
//   - [Dispatcher]: buffered relay between the engine and one sink. It either
//     drops or blocks when full, bounds each sink call and recovers sink panics.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. Which events exist and when
// they fire is decided by the engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import toystory or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
