// Package session is the per-session protocol context: it owns the handler
// table, the send path and the receive dispatcher for one peer.
//
// Ownership boundary:
// - typed send with addressing and relay requests
// - envelope dispatch, must-be-handled check, single-hop server relay
// - fragmentation of oversized envelopes and reassembly of inbound chunks
//
// The registry is frozen by Open and cleared by Close. Dispatch runs on the
// polling goroutine only; Send may be called from any goroutine.
package session
