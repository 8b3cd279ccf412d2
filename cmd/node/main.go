package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/otcmatch/params"
	"github.com/uhyunpark/otcmatch/pkg/api"
	"github.com/uhyunpark/otcmatch/pkg/metrics"
	"github.com/uhyunpark/otcmatch/pkg/node"
	"github.com/uhyunpark/otcmatch/pkg/p2p"
	"github.com/uhyunpark/otcmatch/pkg/storage"
	"github.com/uhyunpark/otcmatch/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Match journal ----
	var journal storage.Journal = storage.NewMemJournal()
	if cfg.JournalPath != "" {
		pj, err := storage.NewPebbleJournal(cfg.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.JournalPath, "err", err)
		}
		journal = pj
	}
	defer journal.Close()

	// ---- Network: libp2p ----
	lpn, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
		ListenAddr:       cfg.Node.ListenAddr,
		Bootstrap:        cfg.Node.Bootstrap,
		AnnounceTTL:      cfg.Node.AnnounceTTL,
		InboundRateLimit: cfg.Node.InboundRateLimit,
		MDNS:             cfg.Node.MDNS,
		Logger:           sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}

	// ---- Node ----
	m := metrics.New()
	hub := api.NewHub(sugar)
	n, err := node.New(node.Config{
		Substrate:        lpn,
		Hooks:            hub,
		Logger:           sugar,
		Journal:          journal,
		Metrics:          m,
		AnnounceInterval: cfg.Node.AnnounceInterval,
		RequestTimeout:   cfg.Node.RequestTimeout,
		ProbeBackoff:     cfg.Node.ProbeBackoff,
		ProbeRetries:     cfg.Node.ProbeRetries,
		ShutdownGrace:    cfg.Node.ShutdownGrace,
	})
	if err != nil {
		sugar.Fatalw("node_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"peer", n.ID(),
		"addrs", lpn.Addrs(),
		"bootstrap", len(cfg.Node.Bootstrap),
		"mdns", cfg.Node.MDNS,
		"journal", cfg.JournalPath)

	// ---- API Server ----
	apiServer := api.NewServer(api.ServerConfig{
		Node:           n,
		Hub:            hub,
		Metrics:        m,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Serve(gctx, cfg.API.Addr)
	})
	g.Go(func() error {
		// Progress logging loop
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sugar.Infow("node_progress",
					"open_offers", len(n.OpenOffers()),
					"known_registrations", lpn.Registry().Len())
			}
		}
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("service_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Destroy(shutdownCtx); err != nil {
		sugar.Warnw("node_destroy_failed", "err", err)
	}
	sugar.Infow("node_stopped", "peer", n.ID())
}
