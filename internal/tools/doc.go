// Package tools defines the executable tool surface.
//
// Two built-ins ship with every catalog: records_query for listing
// record headers and records_get for reading one record. Operators
// extend the set with script tools, JavaScript snippets defined in
// the catalog that run in a sandboxed interpreter with access to the
// same record providers.
//
// # Failure Split
//
// An Executor distinguishes two failure shapes. Returning *ExecError
// means the tool itself failed in a way the caller can act on, e.g. a
// bad argument or a missing record; those travel back inside the call
// result. Any other error means the machinery broke, and the server
// reports a tool execution protocol error instead.
package tools
