package node

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/auth"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/danmuck/edgewire/internal/transport"
)

const version = "0.1.0"

func newRouter(name string, corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

type typeView struct {
	ID         uint16 `json:"id"`
	Name       string `json:"name"`
	Originator uint16 `json:"originator"`
}

type originatorView struct {
	ID     uint16 `json:"id"`
	Name   string `json:"name"`
	Synced bool   `json:"synced"`
}

type peerView struct {
	ID     uint8  `json:"id"`
	Remote string `json:"remote,omitempty"`
}

type fragmentView struct {
	Peer        uint8     `json:"peer"`
	Type        uint16    `json:"type"`
	Bytes       int       `json:"bytes"`
	Chunks      int       `json:"chunks"`
	StartedAt   time.Time `json:"started_at"`
	LastChunkAt time.Time `json:"last_chunk_at"`
}

// SendRequest is the body of POST /send/:type. To selects a single peer,
// Except selects everyone but one peer, neither means broadcast.
type SendRequest struct {
	Value  int    `json:"value"`
	Text   string `json:"text"`
	Name   string `json:"name"`
	Size   int    `json:"size"`
	To     *uint8 `json:"to"`
	Except *uint8 `json:"except"`
	Relay  bool   `json:"relay"`
}

func (r SendRequest) Target() transport.Target {
	switch {
	case r.To != nil:
		return transport.ToPeer(*r.To)
	case r.Except != nil:
		return transport.AllExcept(*r.Except)
	default:
		return transport.Broadcast()
	}
}

type remoter interface {
	Remote(transport.PeerID) (string, bool)
}

func (p *Peer) registerRoutes() {
	r := p.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(p.appeared).String(),
			"node":    p.cfg.Name,
			"role":    p.cfg.Role,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := p.Ready() && p.sess.IsOpen()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(p.appeared).String(),
			"node":    p.cfg.Name,
			"version": version,
		})
	})

	r.GET("/types", func(c *gin.Context) {
		reg := p.sess.Registry()
		entries := reg.Entries()
		out := make([]typeView, 0, len(entries))
		for _, e := range entries {
			out = append(out, typeView{ID: e.ID, Name: e.Name, Originator: uint16(e.Originator)})
		}
		widths := reg.Widths()
		c.JSON(http.StatusOK, gin.H{
			"types":            out,
			"type_width":       widths.Type,
			"originator_width": widths.Originator,
			"frozen":           reg.Frozen(),
		})
	})

	r.GET("/originators", func(c *gin.Context) {
		origins := p.sess.Registry().Originators()
		out := make([]originatorView, 0, len(origins))
		for _, o := range origins {
			out = append(out, originatorView{ID: uint16(o.ID), Name: o.Name, Synced: o.Synced})
		}
		c.JSON(http.StatusOK, gin.H{"originators": out})
	})

	r.GET("/peers", func(c *gin.Context) {
		ids := p.sess.Peers()
		out := make([]peerView, 0, len(ids))
		rm, hasRemote := p.tr.(remoter)
		for _, id := range ids {
			view := peerView{ID: id}
			if hasRemote {
				view.Remote, _ = rm.Remote(id)
			}
			out = append(out, view)
		}
		c.JSON(http.StatusOK, gin.H{
			"local": p.sess.LocalPeer(),
			"role":  p.sess.Role(),
			"addrs": p.Addrs(),
			"peers": out,
		})
	})

	r.GET("/fragments", func(c *gin.Context) {
		pending := p.sess.PendingFragments()
		out := make([]fragmentView, 0, len(pending))
		for _, f := range pending {
			out = append(out, fragmentView{
				Peer:        f.Key.Peer,
				Type:        f.Key.Type,
				Bytes:       f.Bytes,
				Chunks:      f.Chunks,
				StartedAt:   f.StartedAt,
				LastChunkAt: f.LastChunkAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"pending": out})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Stats())
	})

	var guard auth.Validator
	if p.cfg.AdminToken != "" {
		guard = auth.StaticToken{Token: p.cfg.AdminToken}
	}
	r.POST("/send/:type", auth.Require(guard), func(c *gin.Context) {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var err error
		switch c.Param("type") {
		case "ping":
			err = p.SendPing(req.Value, req.Target(), req.Relay)
		case "blob":
			err = p.SendBlob(uint32(req.Value), req.Name, make([]byte, max(req.Size, 0)), req.Target(), req.Relay)
		case "note":
			err = p.SendNote(req.Text, req.Target(), req.Relay)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown message type"})
			return
		}
		if err != nil {
			c.JSON(sendErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "target": req.Target().String()})
	})
}

func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrCompanionDisabled), errors.Is(err, protocol.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrUnreachable), errors.Is(err, session.ErrPayloadTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrRegistryNotFrozen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
