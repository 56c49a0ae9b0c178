// Package backfill imports historical agent session transcripts into the
// interaction store so generation can run over them.
package backfill

import (
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// Turn is one user or agent message recovered from a transcript.
type Turn struct {
	Role      interaction.Role
	Text      string
	Tool      *interaction.ToolUse
	Timestamp time.Time
}

// FileFormat identifies which parser reads a transcript file.
type FileFormat int

const (
	// FormatSession is the threaded JSONL layout where each line links to
	// its parent through parentUuid.
	FormatSession FileFormat = iota
	// FormatGateway is the flat event log written by the agent gateway.
	FormatGateway
)

func (f FileFormat) String() string {
	if f == FormatSession {
		return "session"
	}
	return "gateway"
}
