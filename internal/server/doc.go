// Package server owns the poll endpoint that script-loading clients talk to.
//
// Ownership boundary:
// - GET /poll: hold until a session has messages, answer with a callback snippet
// - POST /write: accept one client message and relay it to every session mailbox
// - per-session mailboxes and their idle expiry
//
// Health, readiness and metrics routes follow the other node servers.
package server
