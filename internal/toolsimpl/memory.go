package toolsimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ralphagent/ralph/pkg/models"
)

// MemoryStore is a tiny key/value memory table backed by SQLite. Reads and
// writes go through independent keys, so both Remember and Recall report
// ThreadSafe() true — concurrent calls in the same batch never race on the
// same row in a way that matters to the caller.
type MemoryStore struct {
	db *sql.DB
}

// OpenMemoryStore opens (creating if necessary) a SQLite-backed memory
// store at path. An empty path means ":memory:", an ephemeral,
// process-local store.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("toolsimpl: opening memory store: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS memories (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("toolsimpl: creating memory schema: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (m *MemoryStore) Close() error {
	return m.db.Close()
}

// Remember implements the Memory category's write tool.
type Remember struct {
	Store *MemoryStore
}

func (Remember) Name() string        { return "remember" }
func (Remember) Description() string { return "Stores a key/value fact for later recall." }
func (Remember) ThreadSafe() bool    { return true }

type rememberArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r Remember) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	var a rememberArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewErrorResult("", "invalid_arguments", err.Error()), nil
	}
	if a.Key == "" {
		return models.NewErrorResult("", "invalid_arguments", "key is required"), nil
	}

	const upsert = `INSERT INTO memories (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := r.Store.db.ExecContext(ctx, upsert, a.Key, a.Value); err != nil {
		return models.NewErrorResult("", "store_failed", err.Error()), nil
	}

	body, _ := json.Marshal(map[string]string{"status": "remembered " + a.Key})
	return models.ToolResult{Result: string(body), Success: true}, nil
}

// RecallMemories implements the Memory category's read tool.
type RecallMemories struct {
	Store *MemoryStore
}

func (RecallMemories) Name() string        { return "recall_memories" }
func (RecallMemories) Description() string { return "Looks up a previously remembered value by key." }
func (RecallMemories) ThreadSafe() bool    { return true }

type recallArgs struct {
	Key string `json:"key"`
}

func (r RecallMemories) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	var a recallArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewErrorResult("", "invalid_arguments", err.Error()), nil
	}
	if a.Key == "" {
		return models.NewErrorResult("", "invalid_arguments", "key is required"), nil
	}

	var value string
	err := r.Store.db.QueryRowContext(ctx, `SELECT value FROM memories WHERE key = ?`, a.Key).Scan(&value)
	if err == sql.ErrNoRows {
		return models.NewErrorResult("", "not_found", "no memory for key: "+a.Key), nil
	}
	if err != nil {
		return models.NewErrorResult("", "query_failed", err.Error()), nil
	}

	body, _ := json.Marshal(map[string]string{"value": value})
	return models.ToolResult{Result: string(body), Success: true}, nil
}
