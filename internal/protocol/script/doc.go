// Package script owns the wire contract between the poll server and a
// script-loading client.
//
// A poll response is an executable snippet of one or more calls:
//
//	__isonp.7(null,["hello"]);
//
// The callee is a dotted path naming a callback registered by the client.
// Arguments are JSON values: the first is the error (null on success), the
// second is the data payload. No other response shape is supported.
package script
