package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"codegen-agent/internal/domain"
)

// SQLiteStore keeps session checkpoints in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// One writer; PRAGMAs below apply per connection.
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id    TEXT PRIMARY KEY,
			messages      TEXT NOT NULL DEFAULT '[]',
			last_options  TEXT NOT NULL DEFAULT '{}',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT session_id, messages, last_options, created_at, updated_at FROM checkpoints WHERE session_id = ?", id,
	)
	var (
		rec                   domain.SessionRecord
		msgs, opts            string
		createdStr, updatedAt string
	)
	if err := row.Scan(&rec.ID, &msgs, &opts, &createdStr, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("SQLiteStore.Load", id)
		}
		return nil, domain.WrapOp("SQLiteStore.Load", err)
	}
	if err := json.Unmarshal([]byte(msgs), &rec.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if err := json.Unmarshal([]byte(opts), &rec.LastOptions); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// Save upserts the whole record in one statement.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.SessionRecord) error {
	stamp(rec)
	msgs, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	opts := []byte("{}")
	if len(rec.LastOptions) > 0 {
		if opts, err = json.Marshal(rec.LastOptions); err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, messages, last_options, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages = excluded.messages,
			last_options = excluded.last_options,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		rec.ID, string(msgs), string(opts), len(rec.Messages),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapOp("SQLiteStore.Save", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", id)
	if err != nil {
		return domain.WrapOp("SQLiteStore.Delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("SQLiteStore.Delete", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, message_count, created_at, updated_at FROM checkpoints")
	if err != nil {
		return nil, domain.WrapOp("SQLiteStore.List", err)
	}
	defer rows.Close()

	var list []domain.SessionSummary
	for rows.Next() {
		var (
			sum                   domain.SessionSummary
			createdStr, updatedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.MessageCount, &createdStr, &updatedAt); err != nil {
			return nil, err
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		list = append(list, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(list)
	return list, nil
}
