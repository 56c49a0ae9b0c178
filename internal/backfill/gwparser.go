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

// gwLine is a single event in a gateway session log.
type gwLine struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	ParentID  *string   `json:"parentId"`
	Timestamp string    `json:"timestamp"`
	Message   gwMessage `json:"message"`
}

type gwMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ParseGatewayFile reads a gateway session log and returns its turns in
// timestamp order.
func ParseGatewayFile(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		var line gwLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "message" {
			continue
		}

		var role interaction.Role
		switch line.Message.Role {
		case "user":
			role = interaction.RoleUser
		case "assistant":
			role = interaction.RoleAgent
		default:
			// toolResult and system events carry nothing a reviewer reads.
			continue
		}

		c := decodeContent(line.Message.Content, "toolCall")
		if role == interaction.RoleUser {
			c.tool = nil
		}
		if c.text == "" && c.tool == nil {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, line.Timestamp)
		turns = append(turns, Turn{Role: role, Text: c.text, Tool: c.tool, Timestamp: ts})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
	return turns, nil
}
