package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/logging"
	"github.com/danmuck/edgewire/internal/node"
	"github.com/danmuck/edgewire/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "edgewire: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", "cmd/edgewire/config.toml", "peer config path")
	role := flag.String("role", "", "override role: server|client|solo")
	name := flag.String("name", "", "override peer name")
	server := flag.String("server", "", "override server address (client)")
	pingEvery := flag.Duration("ping-every", 0, "broadcast a relayed ping on this interval (0 disables)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadPeerConfig(*path, overrides{Role: *role, Name: *name, ServerAddr: *server})
	if err != nil {
		return err
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peer, err := node.Appear(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("name", cfg.Name).
		Str("role", cfg.Role).
		Str("transport", cfg.Transport).
		Strs("addrs", peer.Addrs()).
		Str("admin", cfg.AdminAddr).
		Msg("edgewire running")

	if *pingEvery > 0 {
		go pingLoop(ctx, peer, *pingEvery)
	}
	return peer.Run(ctx)
}

func pingLoop(ctx context.Context, peer *node.Peer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	value := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value++
			if err := peer.SendPing(value, transport.Broadcast(), true); err != nil {
				log.Warn().Err(err).Int("value", value).Msg("ping failed")
			}
		}
	}
}
