// Package history persists conversation transcripts so sessions can resume
// across process restarts. The engine treats a conversation as an ordered
// list of role/text turns; who runs the database and when a transcript is
// loaded are the caller's concern.
package history

import (
	"context"

	"github.com/crewmatch/coxswain/pkg/types"
)

// Store loads and persists conversation transcripts.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadTurns returns the stored turns for a conversation, oldest first.
	// Returns (nil, nil) for a conversation that has never been saved.
	LoadTurns(ctx context.Context, conversationID string) ([]types.Turn, error)

	// SaveFinal replaces the stored transcript for a conversation with the
	// given turns and records the final user-facing text.
	SaveFinal(ctx context.Context, conversationID string, turns []types.Turn, finalText string) error
}
