package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/auth"
	"github.com/edvart/haxstats/internal/chatcmd"
	"github.com/edvart/haxstats/internal/config"
	"github.com/edvart/haxstats/internal/coordinator"
	"github.com/edvart/haxstats/internal/feed"
	"github.com/edvart/haxstats/internal/matchrecorder"
	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
	"github.com/edvart/haxstats/internal/web"
)

const (
	commitTimeout   = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create data directory")
	}

	lock, err := store.Lock(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Database is held by another process")
	}
	defer lock.Unlock()

	// Migrations run here; a failure is fatal.
	db, err := store.NewSQLiteStore(cfg.DatabasePath, store.Options{
		BackupDir:         cfg.BackupDirectory(),
		SyntheticPrefixes: cfg.SyntheticPrefixes,
		Logger:            log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	m := metrics.NewManager()
	rec := matchrecorder.New(db, log, m, commitTimeout)
	agg := aggregator.New(db, rec, log,
		aggregator.WithAssistWindow(cfg.AssistWindow()),
		aggregator.WithTouchDebounce(cfg.TouchDebounce()),
		aggregator.WithMetrics(m),
	)
	chat := chatcmd.New(db, cfg.RankLimit, log, m)
	coord := coordinator.New(db, agg, chat, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() { coord.Run(ctx) })

	if cfg.FeedPath != "" {
		wg.Go(func() {
			if err := consumeFeed(ctx, cfg.FeedPath, coord, log, m); err != nil {
				log.WithError(err).Error("Event feed stopped")
			}
		})
	}

	if cfg.Addr != "" {
		server := web.NewServer(coord, db, m, log, web.Config{
			RankLimit: cfg.RankLimit,
			Admin:     auth.AdminConfig{User: cfg.AdminUser, Password: cfg.AdminPassword},
		})
		server.StartSSE(coord.Events())

		httpServer := &http.Server{
			Addr:              cfg.Addr,
			Handler:           server,
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Go(func() {
			<-ctx.Done()
			log.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("HTTP server shutdown error")
			}
		})
		wg.Go(func() {
			log.WithFields(logrus.Fields{
				"addr":  cfg.Addr,
				"admin": cfg.AdminEnabled(),
			}).Info("Server running")
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP server error")
				stop()
			}
		})
	} else {
		log.Info("HTTP surface disabled")
	}

	wg.Wait()
	log.Info("Server stopped")
}

func consumeFeed(ctx context.Context, path string, sink feed.Sink, log logrus.FieldLogger, m *metrics.Manager) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "open feed")
		}
		defer f.Close()
		r = f
	}
	_, err := feed.NewReplayer(sink, log, m).Replay(ctx, r)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
