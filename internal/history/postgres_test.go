package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crewmatch/coxswain/pkg/types"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
				if !strings.Contains(sql, "CREATE TABLE") {
					t.Errorf("Migrate SQL should contain CREATE TABLE, got: %s", sql)
				}
				return pgconn.CommandTag{}, nil
			},
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() unexpected error: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection refused")
			},
		}
		store := NewPostgresStore(db)
		err := store.Migrate(context.Background())
		if err == nil {
			t.Fatal("Migrate() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "history: migrate:") {
			t.Errorf("error = %q, want prefix 'history: migrate:'", err.Error())
		}
	})
}

func TestPostgresStore_LoadTurns(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		db := &mockDB{
			queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
				if args[0] != "conv-1" {
					t.Errorf("LoadTurns() id = %v, want 'conv-1'", args[0])
				}
				return &mockRow{
					scanFunc: func(dest ...any) error {
						*(dest[0].(*[]byte)) = []byte(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`)
						return nil
					},
				}
			},
		}

		store := NewPostgresStore(db)
		turns, err := store.LoadTurns(context.Background(), "conv-1")
		if err != nil {
			t.Fatalf("LoadTurns() unexpected error: %v", err)
		}
		if len(turns) != 2 {
			t.Fatalf("LoadTurns() returned %d turns, want 2", len(turns))
		}
		if turns[0].Role != types.RoleUser || turns[0].Content != "hi" {
			t.Errorf("turns[0] = %+v, want user/hi", turns[0])
		}
		if turns[1].Role != types.RoleAssistant || turns[1].Content != "hello" {
			t.Errorf("turns[1] = %+v, want assistant/hello", turns[1])
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{
					scanFunc: func(_ ...any) error { return pgx.ErrNoRows },
				}
			},
		}
		store := NewPostgresStore(db)
		turns, err := store.LoadTurns(context.Background(), "missing")
		if err != nil {
			t.Fatalf("LoadTurns() unexpected error: %v", err)
		}
		if turns != nil {
			t.Errorf("LoadTurns() = %v, want nil for unknown conversation", turns)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{
					scanFunc: func(_ ...any) error { return errors.New("timeout") },
				}
			},
		}
		store := NewPostgresStore(db)
		_, err := store.LoadTurns(context.Background(), "conv-1")
		if err == nil {
			t.Fatal("LoadTurns() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "history: load") {
			t.Errorf("error = %q, want prefix 'history: load'", err.Error())
		}
	})

	t.Run("corrupt turns column", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{
					scanFunc: func(dest ...any) error {
						*(dest[0].(*[]byte)) = []byte(`{not json`)
						return nil
					},
				}
			},
		}
		store := NewPostgresStore(db)
		_, err := store.LoadTurns(context.Background(), "conv-1")
		if err == nil {
			t.Fatal("LoadTurns() expected error for corrupt JSONB")
		}
		if !strings.Contains(err.Error(), "history: unmarshal turns") {
			t.Errorf("error = %q, want unmarshal error", err.Error())
		}
	})
}

func TestPostgresStore_SaveFinal(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var capturedSQL string
		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				capturedSQL = sql
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}

		store := NewPostgresStore(db)
		turns := []types.Turn{{Role: types.RoleUser, Content: "hi"}}
		if err := store.SaveFinal(context.Background(), "conv-1", turns, "hello"); err != nil {
			t.Fatalf("SaveFinal() unexpected error: %v", err)
		}

		if !strings.Contains(capturedSQL, "ON CONFLICT") {
			t.Errorf("SQL should contain ON CONFLICT, got: %s", capturedSQL)
		}
		if len(capturedArgs) != 3 {
			t.Fatalf("expected 3 args, got %d", len(capturedArgs))
		}
		if capturedArgs[0] != "conv-1" {
			t.Errorf("first arg = %v, want 'conv-1'", capturedArgs[0])
		}
		raw := string(capturedArgs[1].([]byte))
		if raw != `[{"role":"user","content":"hi"}]` {
			t.Errorf("turns column = %s", raw)
		}
		if capturedArgs[2] != "hello" {
			t.Errorf("final_text arg = %v, want 'hello'", capturedArgs[2])
		}
	})

	t.Run("nil turns serialise as empty array", func(t *testing.T) {
		t.Parallel()

		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}

		store := NewPostgresStore(db)
		if err := store.SaveFinal(context.Background(), "conv-2", nil, ""); err != nil {
			t.Fatalf("SaveFinal() unexpected error: %v", err)
		}
		if raw := string(capturedArgs[1].([]byte)); raw != "[]" {
			t.Errorf("turns column = %s, want []", raw)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("disk full")
			},
		}
		store := NewPostgresStore(db)
		err := store.SaveFinal(context.Background(), "conv-1", nil, "x")
		if err == nil {
			t.Fatal("SaveFinal() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "history: save") {
			t.Errorf("error = %q, want prefix 'history: save'", err.Error())
		}
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestEmptyTurns(t *testing.T) {
	t.Parallel()

	t.Run("nil returns empty", func(t *testing.T) {
		t.Parallel()
		result := emptyTurns(nil)
		if result == nil || len(result) != 0 {
			t.Errorf("emptyTurns(nil) = %v, want []", result)
		}
	})

	t.Run("non-nil passes through", func(t *testing.T) {
		t.Parallel()
		input := []types.Turn{{Role: types.RoleUser, Content: "hi"}}
		result := emptyTurns(input)
		if len(result) != 1 {
			t.Errorf("emptyTurns(input) len = %d, want 1", len(result))
		}
	})
}
