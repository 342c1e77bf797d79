package node

import "sync/atomic"

type counters struct {
	pings     atomic.Int64
	pongs     atomic.Int64
	blobs     atomic.Int64
	blobBytes atomic.Int64
	notes     atomic.Int64
	lastPong  atomic.Int64
}

// Stats counts demo traffic handled by one peer.
type Stats struct {
	Pings     int64 `json:"pings"`
	Pongs     int64 `json:"pongs"`
	Blobs     int64 `json:"blobs"`
	BlobBytes int64 `json:"blob_bytes"`
	Notes     int64 `json:"notes"`
	LastPong  int64 `json:"last_pong"`
}

func (p *Peer) Stats() Stats {
	return Stats{
		Pings:     p.stats.pings.Load(),
		Pongs:     p.stats.pongs.Load(),
		Blobs:     p.stats.blobs.Load(),
		BlobBytes: p.stats.blobBytes.Load(),
		Notes:     p.stats.notes.Load(),
		LastPong:  p.stats.lastPong.Load(),
	}
}
