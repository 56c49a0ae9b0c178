// Command sift-backfill imports historical agent transcripts into the
// interaction store and announces them so generation runs over them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/backfill"
	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
	"github.com/MikeSquared-Agency/sift/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	var (
		bf           backfill.Config
		since, until string
		notify       bool
	)
	flag.StringVar(&bf.Owner.OrgID, "org", "", "organization the transcripts belong to (required)")
	flag.StringVar(&bf.Owner.UserID, "user", "", "user the transcripts belong to (required)")
	flag.StringVar(&bf.Owner.AgentVersion, "agent-version", "", "agent version to record on imported requests")
	flag.StringVar(&bf.Owner.Source, "source", "backfill", "source label for imported requests")
	flag.StringVar(&bf.SessionDir, "session-dir", "", "directory of threaded session transcripts")
	flag.StringVar(&bf.GatewayDir, "gateway-dir", "", "directory of gateway session logs")
	flag.StringVar(&bf.SingleFile, "file", "", "import a single transcript file")
	flag.StringVar(&since, "since", "", "skip transcripts entirely before this date (YYYY-MM-DD)")
	flag.StringVar(&until, "until", "", "skip transcripts entirely after this date (YYYY-MM-DD)")
	flag.IntVar(&bf.MinTurns, "min-turns", 2, "skip transcripts with fewer turns")
	flag.BoolVar(&bf.SkipNoHuman, "skip-no-human", true, "skip transcripts without a human-authored turn")
	flag.BoolVar(&bf.DryRun, "dry-run", false, "parse and split without writing")
	flag.StringVar(&bf.StatePath, "state", backfill.DefaultStatePath, "resume state file")
	flag.BoolVar(&notify, "notify", true, "publish interactions events over NATS after each file")
	flag.Parse()

	var err error
	if bf.Since, err = parseDate(since); err != nil {
		fatal("invalid -since", err)
	}
	if bf.Until, err = parseDate(until); err != nil {
		fatal("invalid -until", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to open store", err)
	}
	defer db.Close()

	var publisher backfill.Publisher
	if notify && !bf.DryRun {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			fatal("failed to connect to NATS", err)
		}
		defer bus.Close()
		publisher = bus
	}

	sum, err := backfill.NewRunner(bf, db, publisher, slog.Default()).Run(ctx)
	if err != nil {
		fatal("backfill failed", err)
	}

	fmt.Printf("\n=== Backfill Summary ===\n")
	fmt.Printf("Files imported: %d\n", sum.Files)
	fmt.Printf("Duplicate files skipped: %d\n", sum.DuplicatesSkipped)
	fmt.Printf("Requests: %d\n", sum.Requests)
	fmt.Printf("Interactions: %d\n", sum.Interactions)
	fmt.Printf("Errors: %d\n", sum.Errors)
	if bf.DryRun {
		fmt.Printf("Mode: DRY RUN (no writes)\n")
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
