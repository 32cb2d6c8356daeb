// Package provider supplies the records served as resources and
// queried by tools.
//
// # Sources
//
// A source is one backing store exposed under a stable id. Two kinds
// exist:
//
//   - sqlite: one table of an SQLite database, with configurable
//     column mapping
//   - files: a directory tree selected by glob patterns
//
// Records are addressed as carrel://<source>/<record-id>. For file
// sources the record id is the slash-separated path relative to the
// root, so ids may themselves contain slashes.
//
// # Queries
//
// FetchRecords returns headers only; FetchRecord loads content. Both
// kinds understand filters on id and title with eq, contains, and
// prefix operators. The SQLite provider pushes filters into SQL with
// parameterized values; identifiers from configuration are checked
// against a strict pattern before they ever reach query text.
//
// # Watching
//
// Providers that can observe their backing store implement Watcher.
// The file provider uses inotify-style notifications and reports
// adds, modifications, and removals so the server can emit resource
// change notifications.
package provider
