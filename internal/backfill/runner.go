package backfill

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/hermes"
	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// Config holds the backfill command configuration.
type Config struct {
	Owner       Owner
	SessionDir  string
	GatewayDir  string
	SingleFile  string // import one file only
	Since       time.Time
	Until       time.Time
	DryRun      bool
	MinTurns    int
	SkipNoHuman bool // skip transcripts with no human-authored user turn
	StatePath   string
}

// Sink stores imported request units.
type Sink interface {
	SaveRequestInteractions(ctx context.Context, unit interaction.RequestInteractions) error
}

// Publisher announces imported requests so generation picks them up.
type Publisher interface {
	Publish(subject string, data any) error
}

// Summary reports what a Run did.
type Summary struct {
	Files             int
	DuplicatesSkipped int
	Requests          int
	Interactions      int
	Errors            int
}

// Runner orchestrates the backfill process.
type Runner struct {
	cfg       Config
	sink      Sink
	publisher Publisher
	logger    *slog.Logger
}

// NewRunner creates a backfill runner. publisher may be nil.
func NewRunner(cfg Config, sink Sink, publisher Publisher, logger *slog.Logger) *Runner {
	if cfg.Owner.Source == "" {
		cfg.Owner.Source = "backfill"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, sink: sink, publisher: publisher, logger: logger}
}

type parsedFile struct {
	path   string
	format FileFormat
	turns  []Turn
	fp     fileFingerprint
}

// Run imports every transcript not yet recorded in the state file.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if r.cfg.Owner.OrgID == "" || r.cfg.Owner.UserID == "" {
		return sum, errors.New("backfill: org and user are required")
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	sessionFiles, gwFiles, err := r.discoverFiles()
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "session_files", len(sessionFiles), "gateway_files", len(gwFiles))

	sessions := r.parseAll(sessionFiles, FormatSession, ParseSessionFile, state)
	gateways := r.parseAll(gwFiles, FormatGateway, ParseGatewayFile, state)

	var sessionFPs, gwFPs []fileFingerprint
	for _, p := range sessions {
		sessionFPs = append(sessionFPs, p.fp)
	}
	for _, p := range gateways {
		gwFPs = append(gwFPs, p.fp)
	}
	duplicates := FindDuplicates(sessionFPs, gwFPs)

	all := sessions
	for _, gw := range gateways {
		if duplicates[gw.path] {
			r.logger.Info("skipping duplicate gateway file", "path", gw.path)
			sum.DuplicatesSkipped++
			if !r.cfg.DryRun {
				// The session copy is gone from later runs, so remember the verdict.
				state.MarkProcessed(gw.path)
			}
			continue
		}
		all = append(all, gw)
	}
	state.FilesRemaining = len(all)

	for _, pf := range all {
		if err := ctx.Err(); err != nil {
			r.logger.Info("backfill interrupted, saving state")
			_ = state.Save()
			return sum, err
		}

		units := SplitRequests(pf.turns, pf.path, pf.format, r.cfg.Owner)
		if err := r.importFile(ctx, pf, units); err != nil {
			r.logger.Error("import failed", "path", pf.path, "error", err)
			state.AddError(fmt.Sprintf("import %s: %v", pf.path, err))
			sum.Errors++
			continue
		}

		sum.Files++
		sum.Requests += len(units)
		sum.Interactions += interaction.Count(units)
		state.RequestsImported += len(units)
		state.FilesRemaining--
		if !r.cfg.DryRun {
			state.MarkProcessed(pf.path)
			_ = state.Save()
		}
		r.logger.Info("file imported",
			"path", pf.path,
			"format", pf.format.String(),
			"requests", len(units),
			"dry_run", r.cfg.DryRun,
		)
	}

	if !r.cfg.DryRun {
		_ = state.Save()
	}
	r.logger.Info("backfill complete",
		"files", sum.Files,
		"requests", sum.Requests,
		"interactions", sum.Interactions,
		"duplicates_skipped", sum.DuplicatesSkipped,
		"errors", sum.Errors,
		"dry_run", r.cfg.DryRun,
	)
	return sum, nil
}

func (r *Runner) parseAll(paths []string, format FileFormat, parse func(string) ([]Turn, error), state *State) []parsedFile {
	var out []parsedFile
	for _, path := range paths {
		if state.IsProcessed(path) {
			continue
		}
		turns, err := parse(path)
		if err != nil {
			r.logger.Warn("failed to parse transcript", "path", path, "format", format.String(), "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			continue
		}
		if len(turns) == 0 || len(turns) < r.cfg.MinTurns {
			continue
		}
		if r.cfg.SkipNoHuman && !hasHumanTurn(turns) {
			continue
		}
		if !r.inDateRange(turns) {
			continue
		}
		out = append(out, parsedFile{path: path, format: format, turns: turns, fp: BuildFingerprint(path, format, turns)})
	}
	return out
}

// importFile saves every unit and announces the newest one. The stride gate
// counts everything since the bookmark, so one event per file is enough.
func (r *Runner) importFile(ctx context.Context, pf parsedFile, units []interaction.RequestInteractions) error {
	if r.cfg.DryRun || len(units) == 0 {
		return nil
	}
	for _, u := range units {
		if err := r.sink.SaveRequestInteractions(ctx, u); err != nil {
			return fmt.Errorf("save request %s: %w", u.Request.ID, err)
		}
	}
	if r.publisher == nil {
		return nil
	}
	newest, _ := interaction.Newest(units)
	evt := hermes.InteractionsPublished{
		OrgID:        newest.OrgID,
		UserID:       newest.UserID,
		RequestID:    newest.ID,
		AgentVersion: newest.AgentVersion,
		Source:       newest.Source,
	}
	if err := r.publisher.Publish(hermes.SubjectInteractionsPublished, evt); err != nil {
		r.logger.Warn("failed to announce imported requests", "path", pf.path, "error", err)
	}
	return nil
}

func (r *Runner) discoverFiles() (sessionFiles, gwFiles []string, err error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("single file not found: %s", path)
		}
		if r.cfg.GatewayDir != "" && strings.HasPrefix(path, expandHome(r.cfg.GatewayDir)) {
			return nil, []string{path}, nil
		}
		return []string{path}, nil, nil
	}
	return r.walkJSONL(r.cfg.SessionDir), r.walkJSONL(r.cfg.GatewayDir), nil
}

func (r *Runner) walkJSONL(dir string) []string {
	if dir == "" {
		return nil
	}
	root := expandHome(dir)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking transcript dir", "dir", root, "error", err)
	}
	return files
}

// hasHumanTurn reports whether any user turn was typed by a person rather
// than injected by a scheduler.
func hasHumanTurn(turns []Turn) bool {
	for _, t := range turns {
		if t.Role == interaction.RoleUser && t.Text != "" && !strings.HasPrefix(t.Text, "[cron:") {
			return true
		}
	}
	return false
}

func (r *Runner) inDateRange(turns []Turn) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			continue
		}
		if !r.cfg.Since.IsZero() && t.Timestamp.Before(r.cfg.Since) {
			continue
		}
		if !r.cfg.Until.IsZero() && t.Timestamp.After(r.cfg.Until) {
			continue
		}
		return true
	}
	return false
}
