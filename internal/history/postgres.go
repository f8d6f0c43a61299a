package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crewmatch/coxswain/pkg/types"
)

// Schema is the SQL DDL for the conversations table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    turns      JSONB NOT NULL DEFAULT '[]',
    final_text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. A conversation
// is one row; its turns are serialised as a JSONB array.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// conversations table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// LoadTurns returns the stored turns for a conversation, oldest first. It
// returns (nil, nil) for a conversation that has never been saved.
func (s *PostgresStore) LoadTurns(ctx context.Context, conversationID string) ([]types.Turn, error) {
	const query = `SELECT turns FROM conversations WHERE id = $1`

	var raw []byte
	err := s.db.QueryRow(ctx, query, conversationID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: load %q: %w", conversationID, err)
	}

	var turns []types.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("history: unmarshal turns for %q: %w", conversationID, err)
	}
	return turns, nil
}

// SaveFinal replaces the stored transcript for a conversation. Saving a
// conversation that already exists overwrites its turns and final text.
func (s *PostgresStore) SaveFinal(ctx context.Context, conversationID string, turns []types.Turn, finalText string) error {
	raw, err := json.Marshal(emptyTurns(turns))
	if err != nil {
		return fmt.Errorf("history: marshal turns: %w", err)
	}

	const query = `
		INSERT INTO conversations (id, turns, final_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			turns = EXCLUDED.turns,
			final_text = EXCLUDED.final_text,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, conversationID, raw, finalText); err != nil {
		return fmt.Errorf("history: save %q: %w", conversationID, err)
	}
	return nil
}

// emptyTurns returns turns if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptyTurns(turns []types.Turn) []types.Turn {
	if turns == nil {
		return []types.Turn{}
	}
	return turns
}
