// notebook-robot is the reference pipeline worker. It polls one or
// more notebooks on a daemon for pending jobs, runs distill, compare
// and classify stages through an Anthropic completion model, embeds
// locally, and posts results back.
//
// Usage:
//
//	notebook-robot --server http://localhost:8723 \
//	    --notebooks nb-a1b2,nb-c3d4 \
//	    --worker-id robot-haiku-1 \
//	    --token <bearer-token> \
//	    [--types DISTILL_CLAIMS,COMPARE_CLAIMS] \
//	    [--model claude-haiku-4-5-20251001] \
//	    [--poll-interval 5s]
//
// The Anthropic key comes from ANTHROPIC_API_KEY. Without --token the
// worker identifies itself via X-Author-Id, which daemons only honor
// with the dev identity fallback enabled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thinktank-hq/notebook/internal/robot"
)

func main() {
	var (
		server       = flag.String("server", "http://localhost:8723", "Notebook daemon base URL")
		notebooks    = flag.String("notebooks", "", "Comma-separated notebook ids to poll (required)")
		workerID     = flag.String("worker-id", "", "Worker identity presented to the daemon (required)")
		token        = flag.String("token", "", "Bearer token. Falls back to NOTEBOOK_TOKEN env var")
		typesFlag    = flag.String("types", "", "Comma-separated job type filter (default: all types)")
		model        = flag.String("model", robot.DefaultModel, "Anthropic completion model")
		pollInterval = flag.Duration("poll-interval", robot.DefaultPollInterval, "Sleep between polls when queues are empty")
		embedDim     = flag.Int("embed-dim", 0, "Embedding vector width, 0 for the default; must match the daemon")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	if *notebooks == "" || *workerID == "" {
		fmt.Fprintln(os.Stderr, "notebook-robot: --notebooks and --worker-id are required")
		flag.Usage()
		os.Exit(2)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "notebook-robot: invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	bearer := *token
	if bearer == "" {
		bearer = os.Getenv("NOTEBOOK_TOKEN")
	}

	typeFilter, err := robot.ParseTypes(*typesFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notebook-robot: %v\n", err)
		os.Exit(2)
	}

	var ids []string
	for _, id := range strings.Split(*notebooks, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	worker, err := robot.New(robot.Config{
		Server:       *server,
		Notebooks:    ids,
		WorkerID:     *workerID,
		Token:        bearer,
		Types:        typeFilter,
		Model:        *model,
		EmbedDim:     *embedDim,
		PollInterval: *pollInterval,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "notebook-robot: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("robot exited", "error", err, "uptime", time.Since(start))
		os.Exit(1)
	}
}
