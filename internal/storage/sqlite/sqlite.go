package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/storage"

	_ "modernc.org/sqlite"
)

const transcriptColumns = `id, title, status, model, error, turns, tool_calls, created_at`

// Fixed-width timestamps keep ORDER BY created_at chronological.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to :memory: is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *storage.Transcript, messages []llm.Message) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (`+transcriptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Status, t.Model, t.Error, t.Turns, t.ToolCalls,
		t.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting transcript: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcript_messages (transcript_id, messages) VALUES (?, ?)`,
		t.ID, string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*storage.Transcript, error) {
	// Try exact match first, then prefix match
	row := s.db.QueryRowContext(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = ?`, id)
	t, err := scanTranscript(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transcriptColumns+` FROM transcripts WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous transcript prefix %q matches %d transcripts", id, len(matches))
	}
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context, opts storage.ListOptions) ([]storage.Transcript, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transcriptColumns + ` FROM transcripts`
	var args []any

	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	defer rows.Close()

	var out []storage.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTranscript(ctx context.Context, id string) error {
	// Resolve prefix first
	t, err := s.GetTranscript(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE transcript_id = ?`, t.ID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, t.ID)
	return err
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, id string) ([]llm.Message, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT messages FROM transcript_messages WHERE transcript_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	var messages []llm.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("unmarshaling messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(s scanner) (*storage.Transcript, error) {
	var t storage.Transcript
	var createdAt string
	err := s.Scan(&t.ID, &t.Title, &t.Status, &t.Model, &t.Error, &t.Turns, &t.ToolCalls, &createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}
