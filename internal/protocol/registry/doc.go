// Package registry owns message type and originator id assignment.
//
// Ownership boundary:
// - sequential 0-based ids, in registration order
// - type-erased dispatch entries (decode closures built at registration time)
// - freeze/reset lifecycle tied to the session
//
// Ids are never negotiated between peers. Two peers that register the same
// originators and types in the same order agree on every id, and derive the
// same byte/short wire width from the same counts.
package registry
