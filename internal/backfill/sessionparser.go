package backfill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// sessionLine is a single line of a threaded session transcript.
type sessionLine struct {
	Type       string         `json:"type"`
	UUID       string         `json:"uuid"`
	ParentUUID *string        `json:"parentUuid"`
	SessionID  string         `json:"sessionId"`
	Timestamp  string         `json:"timestamp"`
	Message    sessionMessage `json:"message"`
}

type sessionMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ParseSessionFile reads a threaded transcript, following parent links from
// each root, and returns its turns. Lines that only carry tool results are
// dropped; agent lines that only call a tool keep the call.
func ParseSessionFile(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	byUUID := make(map[string]*sessionLine)
	var roots []string
	children := make(map[string]string)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		var line sessionLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "user" && line.Type != "assistant" {
			continue
		}
		byUUID[line.UUID] = &line
		if line.ParentUUID == nil || *line.ParentUUID == "" {
			roots = append(roots, line.UUID)
		} else {
			children[*line.ParentUUID] = line.UUID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if len(byUUID) == 0 {
		return nil, nil
	}

	var ordered []*sessionLine
	visited := make(map[string]bool, len(byUUID))
	for _, id := range roots {
		for cur := id; cur != "" && !visited[cur]; cur = children[cur] {
			if line, ok := byUUID[cur]; ok {
				ordered = append(ordered, line)
				visited[cur] = true
			}
		}
	}
	// Orphans whose parent never made it into the file go last, by time.
	var orphans []*sessionLine
	for id, line := range byUUID {
		if !visited[id] {
			orphans = append(orphans, line)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Timestamp < orphans[j].Timestamp })
	ordered = append(ordered, orphans...)

	var turns []Turn
	for _, line := range ordered {
		c := decodeContent(line.Message.Content, "tool_use")
		if c.toolResult || (c.text == "" && c.tool == nil) {
			continue
		}
		role := interaction.RoleUser
		if line.Type == "assistant" {
			role = interaction.RoleAgent
		} else {
			c.tool = nil
		}
		ts, _ := time.Parse(time.RFC3339Nano, line.Timestamp)
		turns = append(turns, Turn{Role: role, Text: c.text, Tool: c.tool, Timestamp: ts})
	}
	return turns, nil
}
