// Command relay runs the nostr relay core: it loads configuration, opens
// the configured repository backend, and wires the writer, broadcast bus,
// NIP-05 worker, and HTTP/websocket server together (grounded on the
// teacher's pkg/app/main.go: pprof/profile flags, interrupt-driven
// shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/pkg/profile"

	"relay.dev/broadcast"
	"relay.dev/config"
	"relay.dev/ingest"
	"relay.dev/internal/chk"
	"relay.dev/internal/interrupt"
	"relay.dev/internal/lol"
	"relay.dev/nip05"
	"relay.dev/nostr"
	"relay.dev/store"
	"relay.dev/store/embedded"
	"relay.dev/store/networked"
	httptransport "relay.dev/transport/http"
	"relay.dev/transport/ws"
)

const submissionQueueCapacity = 256

func main() {
	cfg, err := config.New()
	if chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(1)
	}
	lol.SetLevel(lol.GetLevel(cfg.LogLevel))
	lol.I.F("starting %s on %s:%d", cfg.AppName, cfg.Listen, cfg.Port)

	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	repo, err := openRepository(ctx, cfg)
	if chk.E(err) {
		lol.F.F("opening repository: %v", err)
	}
	if applied, err := repo.MigrateUp(ctx); chk.E(err) {
		lol.F.F("migrating repository: %v", err)
	} else if applied > 0 {
		lol.I.F("applied %d schema migrations", applied)
	}

	bus := broadcast.New(broadcast.DefaultBufferSize)
	submitCh := make(chan ingest.Submission, submissionQueueCapacity)
	nip05Ch := make(chan *nostr.Event, 64)

	writer := ingest.New(cfg, repo, bus, submitCh, nip05Ch)
	go writer.Run(ctx)

	verifier := nip05.New(repo, nip05Ch)
	go verifier.Run(ctx)

	wsServer := ws.NewServer(cfg, repo, bus, ingest.Channel(submitCh))
	router := httptransport.NewRouter(cfg, bus, wsServer)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Listen, cfg.Port),
		Handler: router,
	}

	interrupt.AddHandler(func() {
		lol.I.F("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		chk.E(repo.Close())
	})

	lol.I.F("listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lol.F.F("server terminated: %v", err)
	}
}

func openRepository(ctx context.Context, cfg *config.C) (store.I, error) {
	switch cfg.DatabaseEngine {
	case config.Networked:
		return networked.Open(ctx, cfg.Connection, cfg.ConnectionWrite, int32(cfg.MaxConn), int32(cfg.MinConn))
	default:
		return embedded.Open(ctx, cfg.DataDir)
	}
}
