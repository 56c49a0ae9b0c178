package backfill

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/sift/internal/hermes"
	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []hermes.InteractionsPublished
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject == hermes.SubjectInteractionsPublished {
		r.events = append(r.events, data.(hermes.InteractionsPublished))
	}
	return nil
}

// writeFixtures lays out one session transcript, a gateway copy of the same
// conversation, and an unrelated gateway-only conversation.
func writeFixtures(t *testing.T) (sessionDir, gwDir string) {
	t.Helper()
	root := t.TempDir()
	sessionDir, gwDir = filepath.Join(root, "sessions"), filepath.Join(root, "gateway")

	writeLines(t, filepath.Join(sessionDir, "proj", "a.jsonl"), []string{
		`{"type":"user","uuid":"1","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"book a table"}}`,
		`{"type":"assistant","uuid":"2","parentUuid":"1","timestamp":"2026-02-11T10:00:02Z","message":{"role":"assistant","content":"which night?"}}`,
		`{"type":"user","uuid":"3","parentUuid":"2","timestamp":"2026-02-11T10:00:04Z","message":{"role":"user","content":"friday"}}`,
		`{"type":"assistant","uuid":"4","parentUuid":"3","timestamp":"2026-02-11T10:00:06Z","message":{"role":"assistant","content":"booked"}}`,
	})
	writeLines(t, filepath.Join(gwDir, "copy.jsonl"), []string{
		`{"type":"message","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"book a table"}}`,
		`{"type":"message","timestamp":"2026-02-11T10:00:02Z","message":{"role":"assistant","content":"which night?"}}`,
		`{"type":"message","timestamp":"2026-02-11T10:00:04Z","message":{"role":"user","content":"friday"}}`,
		`{"type":"message","timestamp":"2026-02-11T10:00:06Z","message":{"role":"assistant","content":"booked"}}`,
	})
	writeLines(t, filepath.Join(gwDir, "cron.jsonl"), []string{
		`{"type":"message","timestamp":"2026-02-12T07:00:00Z","message":{"role":"user","content":"[cron:daily] summarise inbox"}}`,
		`{"type":"message","timestamp":"2026-02-12T07:00:03Z","message":{"role":"assistant","content":"nothing new"}}`,
	})
	writeLines(t, filepath.Join(gwDir, "other.jsonl"), []string{
		`{"type":"message","timestamp":"2026-02-13T09:00:00Z","message":{"role":"user","content":"remind me at 5"}}`,
		`{"type":"message","timestamp":"2026-02-13T09:00:01Z","message":{"role":"assistant","content":"reminder set"}}`,
	})
	return sessionDir, gwDir
}

func TestRunner_ImportsAndAnnounces(t *testing.T) {
	sessionDir, gwDir := writeFixtures(t)
	mem := store.NewMemory()
	pub := &recordingPublisher{}
	cfg := Config{
		Owner:       Owner{OrgID: "acme", UserID: "u1", AgentVersion: "v1"},
		SessionDir:  sessionDir,
		GatewayDir:  gwDir,
		SkipNoHuman: true,
		StatePath:   filepath.Join(t.TempDir(), "state.json"),
	}

	sum, err := NewRunner(cfg, mem, pub, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Files != 2 || sum.DuplicatesSkipped != 1 || sum.Requests != 3 || sum.Interactions != 6 {
		t.Errorf("summary = %+v", sum)
	}

	units, err := mem.GetRequestInteractions(context.Background(), interaction.Query{OrgID: "acme", UserID: "u1"})
	if err != nil {
		t.Fatalf("GetRequestInteractions: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 stored requests, got %d", len(units))
	}
	if units[0].Request.Source != "backfill" {
		t.Errorf("default source label = %q", units[0].Request.Source)
	}
	if units[2].Interactions[0].Content != "remind me at 5" {
		t.Errorf("newest request = %+v", units[2].Interactions)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected one announcement per file, got %d", len(pub.events))
	}
	for _, evt := range pub.events {
		if evt.OrgID != "acme" || evt.UserID != "u1" || evt.Source != "backfill" || evt.RequestID == "" {
			t.Errorf("event = %+v", evt)
		}
	}

	// A second run finds everything already recorded in the state file.
	again, err := NewRunner(cfg, mem, pub, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Files != 0 || again.Requests != 0 {
		t.Errorf("second run summary = %+v", again)
	}
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	sessionDir, _ := writeFixtures(t)
	mem := store.NewMemory()
	pub := &recordingPublisher{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{
		Owner:      Owner{OrgID: "acme", UserID: "u1"},
		SessionDir: sessionDir,
		DryRun:     true,
		StatePath:  statePath,
	}

	sum, err := NewRunner(cfg, mem, pub, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Requests != 2 {
		t.Errorf("dry run still counts requests, got %+v", sum)
	}
	units, _ := mem.GetRequestInteractions(context.Background(), interaction.Query{OrgID: "acme"})
	if len(units) != 0 || len(pub.events) != 0 {
		t.Errorf("dry run stored %d units, published %d events", len(units), len(pub.events))
	}
	state, err := LoadState(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.FilesProcessed) != 0 {
		t.Errorf("dry run must not mark files processed: %v", state.FilesProcessed)
	}
}

func TestRunner_SingleFile(t *testing.T) {
	_, gwDir := writeFixtures(t)
	mem := store.NewMemory()
	cfg := Config{
		Owner:      Owner{OrgID: "acme", UserID: "u1"},
		GatewayDir: gwDir,
		SingleFile: filepath.Join(gwDir, "other.jsonl"),
	}

	sum, err := NewRunner(cfg, mem, nil, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Files != 1 || sum.Requests != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunner_RequiresOwner(t *testing.T) {
	_, err := NewRunner(Config{}, store.NewMemory(), nil, discardLogger()).Run(context.Background())
	if err == nil {
		t.Error("expected error without org and user")
	}
}

func TestRunner_Cancelled(t *testing.T) {
	sessionDir, _ := writeFixtures(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Owner: Owner{OrgID: "acme", UserID: "u1"}, SessionDir: sessionDir}
	if _, err := NewRunner(cfg, store.NewMemory(), nil, discardLogger()).Run(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
