// Package protocol owns the envelope wire contract.
//
// Ownership boundary:
// - envelope header encode/decode (originator id, type id, flags, forwarding fields)
// - byte/short id width rule
// - SenderInfo and the fatal error taxonomy
//
// Envelope layout:
//
//	[originator u8|u16][type u8|u16][flags u8][forwarding fields][body]
//
// Forwarding fields are present only when FlagForwarded is set. On the
// client->server leg they are [toPeer u8][ignorePeer u8] (255 = unrestricted);
// on the server->client leg they are [originalSender u8].
package protocol
