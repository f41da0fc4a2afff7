package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	rdebug "runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/audit"
	"github.com/thinktank-hq/notebook/internal/auth"
	"github.com/thinktank-hq/notebook/internal/catalog"
	"github.com/thinktank-hq/notebook/internal/config"
	"github.com/thinktank-hq/notebook/internal/embed"
	"github.com/thinktank-hq/notebook/internal/eventbus"
	"github.com/thinktank-hq/notebook/internal/jobs"
	"github.com/thinktank-hq/notebook/internal/lockfile"
	"github.com/thinktank-hq/notebook/internal/notebooks"
	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/review"
	"github.com/thinktank-hq/notebook/internal/server"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/storage/mysql"
	"github.com/thinktank-hq/notebook/internal/storage/sqlite"
	"github.com/thinktank-hq/notebook/internal/subscriptions"
	"github.com/thinktank-hq/notebook/internal/telemetry"
	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/writer"
)

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Server.Listen = flagListen
	}
	if flagDB != "" {
		cfg.ConnectionStrings.Notebook = flagDB
	}

	log, err := buildLogger(flagLogLevel, flagLogJSON)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	// Queue and review defaults are process-wide; apply the configured
	// values before any traffic can mint a job or a notebook.
	types.DefaultJobTimeoutSeconds = cfg.Jobs.DefaultTimeoutSeconds
	types.DefaultJobMaxRetries = cfg.Jobs.DefaultMaxRetries
	notebooks.DefaultReviewThreshold = cfg.Review.FrictionThreshold

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			log.Error("daemon crashed", "panic", r, "stack", string(rdebug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := telemetry.Init(ctx, "notebookd", Version); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(sctx)
	}()

	conn := cfg.ConnectionStrings.Notebook
	var store storage.Storage
	if storage.IsMySQLDSN(conn) {
		st, err := mysql.New(ctx, storage.MySQLDSN(conn))
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		defer func() { _ = st.Close() }()
		store = st
		log.Info("storage backend", "driver", "mysql")
	} else {
		// One daemon per SQLite database. The lock lives next to the
		// database file; in-memory databases have nothing to guard.
		if dir := sqliteLockDir(conn); dir != "" {
			lock, err := lockfile.Acquire(dir, conn, Version)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()
		}
		st, err := sqlite.New(ctx, conn)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer func() { _ = st.Close() }()
		store = st
		log.Info("storage backend", "driver", "sqlite", "path", st.Path())
	}
	store = telemetry.WrapStorage(store)

	verifier, err := auth.NewVerifier(auth.Config{
		PublicKey:        cfg.Auth.PublicKey,
		PublicKeyFile:    cfg.Auth.PublicKeyFile,
		Issuer:           cfg.Auth.Issuer,
		AllowDevIdentity: cfg.Auth.AllowDevIdentity,
	}, log)
	if err != nil {
		return err
	}
	if cfg.Auth.AllowDevIdentity {
		log.Warn("dev identity fallback enabled; X-Author-Id headers are trusted")
	}

	gate := access.NewGate(store)
	bus := eventbus.New(log, 0)

	w, err := writer.New(store, gate, writer.Config{TokenBudget: cfg.Fragmenter.TokenBudget})
	if err != nil {
		return err
	}
	w.SetNotifier(bus)

	orch := pipeline.NewOrchestrator(store, pipeline.Config{
		SemanticTopK: cfg.Pipeline.SemanticTopK,
		Thresholds: storage.GradeThresholds{
			Integrate: cfg.Pipeline.SimilarityThresholds.Integrate,
			Low:       cfg.Pipeline.SimilarityThresholds.Low,
			Friction:  cfg.Pipeline.SimilarityThresholds.Friction,
		},
		IncludeMirrored: cfg.Pipeline.CompareIncludesMirrored,
		Retroactive:     cfg.Pipeline.RetroactivePropagation,
	}, log)

	jobSvc := jobs.NewService(store, gate)
	jobSvc.SetDispatcher(orch)

	reviews := review.NewService(store, gate, 0)
	reviews.SetNotifier(bus)

	srv := server.New(server.Deps{
		Store:         store,
		Verifier:      verifier,
		Gate:          gate,
		Writer:        w,
		Notebooks:     notebooks.NewService(store, gate),
		Jobs:          jobSvc,
		Reviews:       reviews,
		Subscriptions: subscriptions.NewManager(store, gate),
		Catalog:       catalog.NewService(store, gate, log),
		Audit:         audit.NewService(store, gate),
		Bus:           bus,
		Embedder:      embed.NewTokenHash(0),
		Log:           log,
	}, server.WithSemanticTopK(cfg.Pipeline.SemanticTopK))

	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("notebookd"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() { _ = nc.Drain() }()
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		if err := eventbus.EnsureStream(js); err != nil {
			return fmt.Errorf("ensure event stream: %w", err)
		}
		bus.SetMirror(eventbus.NewNATSMirror(js))
		log.Info("event mirror enabled", "url", cfg.Events.NATSURL, "stream", eventbus.StreamNotebookEvents)
	}

	log.Info("notebookd starting",
		"version", Version,
		"listen", cfg.Server.Listen,
		"reclaim_interval", cfg.ReclaimInterval(),
		"subscription_poll", cfg.PollInterval(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx, cfg.Server.Listen) })
	g.Go(func() error { return jobs.NewReclaimer(store, cfg.ReclaimInterval(), log).Run(gctx) })
	g.Go(func() error { return subscriptions.NewPoller(store, cfg.PollInterval(), log).Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return verifier.Watch(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("notebookd stopped")
	return err
}

func buildLogger(level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h), nil
}

// sqliteLockDir resolves the directory the daemon lock should live in
// for a SQLite connection string: the database file's directory, or ""
// for in-memory databases.
func sqliteLockDir(conn string) string {
	if strings.Contains(conn, "mode=memory") {
		return ""
	}
	path := strings.TrimPrefix(strings.TrimSpace(conn), "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}
