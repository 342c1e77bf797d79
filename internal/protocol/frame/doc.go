// Package frame splits oversized envelopes into fragment frames and
// reassembles them on the receiving side.
//
// Fragment frame layout:
//
//	[continuation u8][chunk-length uvarint][chunk bytes]
//
// continuation is 1 while more chunks follow and 0 on the final chunk. Every
// chunk travels inside an envelope carrying FlagFragment and the same header,
// so a receiver keys reassembly by (origin peer, type id). The transport keeps
// per-peer order, so there is no chunk index and no out-of-order support.
// Interleaving two fragmented sends of one type from one peer is unsupported.
package frame
