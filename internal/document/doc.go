// Package document owns the hosting environment a polling session loads
// scripts into.
//
// Ownership boundary:
// - script elements: create, attach, ready hook, detach
// - the globals table a delivered snippet resolves its callee against
// - isolated documents under the domain-relaxation rule
//
// The session core only sees the Provider, Document and Script interfaces.
package document
