package backfill

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestParseSessionFile_BasicConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"sessionId":"s1","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"Hello, book a table"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","sessionId":"s1","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"Booked for 8pm."}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","sessionId":"s1","timestamp":"2026-02-11T10:00:10Z","message":{"role":"user","content":"Great, thanks"}}`,
	})

	turns, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Role != interaction.RoleUser || turns[0].Text != "Hello, book a table" {
		t.Errorf("turn[0] = %q %q", turns[0].Role, turns[0].Text)
	}
	if turns[1].Role != interaction.RoleAgent || turns[1].Text != "Booked for 8pm." {
		t.Errorf("turn[1] = %q %q", turns[1].Role, turns[1].Text)
	}
	if !turns[2].Timestamp.Equal(time.Date(2026, 2, 11, 10, 0, 10, 0, time.UTC)) {
		t.Errorf("turn[2] timestamp = %v", turns[2].Timestamp)
	}
}

func TestParseSessionFile_ToolUseAndResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"List files"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","timestamp":"2026-02-11T10:00:01Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","timestamp":"2026-02-11T10:00:02Z","message":{"role":"user","content":[{"tool_use_id":"toolu_1","type":"tool_result","content":"file1"}]}}`,
		`{"type":"assistant","uuid":"ddd","parentUuid":"ccc","timestamp":"2026-02-11T10:00:03Z","message":{"role":"assistant","content":[{"type":"text","text":"I found file1."}]}}`,
	})

	turns, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns (tool result dropped), got %d", len(turns))
	}
	if turns[1].Tool == nil || turns[1].Tool.Name != "Bash" || turns[1].Tool.Input != `{"command":"ls"}` {
		t.Errorf("turn[1] tool = %+v", turns[1].Tool)
	}
	if turns[1].Text != "" {
		t.Errorf("thinking must not leak into text, got %q", turns[1].Text)
	}
}

func TestParseSessionFile_FollowsParentChainAndKeepsOrphans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":"second"}}`,
		`not json at all`,
		`{"type":"summary","uuid":"zzz"}`,
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"first"}}`,
		`{"type":"user","uuid":"xxx","parentUuid":"missing","timestamp":"2026-02-11T10:00:09Z","message":{"role":"user","content":"orphan"}}`,
	})

	turns, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var texts []string
	for _, tr := range turns {
		texts = append(texts, tr.Text)
	}
	if strings.Join(texts, ",") != "first,second,orphan" {
		t.Errorf("order = %v", texts)
	}
}

func TestParseSessionFile_Missing(t *testing.T) {
	if _, err := ParseSessionFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseGatewayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.jsonl")
	writeLines(t, path, []string{
		`{"type":"session","id":"s1","timestamp":"2026-02-11T09:59:00Z"}`,
		`{"type":"message","id":"m2","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":[{"type":"toolCall","name":"calendar","arguments":{"day":"fri"}},{"type":"text","text":"Friday is free."}]}}`,
		`{"type":"message","id":"m1","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":[{"type":"text","text":"Am I free Friday?"}]}}`,
		`{"type":"message","id":"m3","timestamp":"2026-02-11T10:00:06Z","message":{"role":"toolResult","content":"ok"}}`,
		`{"type":"message","id":"m4","timestamp":"2026-02-11T10:00:07Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"..."}]}}`,
	})

	turns, err := ParseGatewayFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != interaction.RoleUser || turns[0].Text != "Am I free Friday?" {
		t.Errorf("turn[0] = %q %q, want the user turn first", turns[0].Role, turns[0].Text)
	}
	if turns[1].Tool == nil || turns[1].Tool.Name != "calendar" || turns[1].Tool.Input != `{"day":"fri"}` {
		t.Errorf("turn[1] tool = %+v", turns[1].Tool)
	}
	if turns[1].Text != "Friday is free." {
		t.Errorf("turn[1] text = %q", turns[1].Text)
	}
}
