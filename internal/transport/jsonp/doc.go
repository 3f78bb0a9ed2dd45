// Package jsonp owns the script-loading polling session.
//
// Ownership boundary:
// - request slots: id allocation, one-shot completion, per-request timeout
// - the callback registry a delivered snippet reaches through the hosting document
// - the poll loop (long and short modes) and deterministic teardown
// - the fire-and-forget outbound write path
//
// A slot finishes exactly once, through one of: the snippet invoking
// <global>.<id>(err, data), the script ready signal, the timeout, or End.
// Every finish produces one callback invocation and one data/error event.
//
// Hosting documents, URL composition, timers and outbound sends are
// collaborators supplied through Options.
package jsonp
