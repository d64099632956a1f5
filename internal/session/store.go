package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const storeBusyTimeout = 5 * time.Second

// Record is one persisted conversation session, keyed by the character it is
// bound to.
type Record struct {
	SessionID   string
	CharacterID int
	CreatedAt   time.Time
}

// NotFoundError indicates no session is persisted for a character.
type NotFoundError struct {
	CharacterID int
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("session for character %d not found", e.CharacterID)
}

// IsNotFound returns true when err is (or wraps) a [NotFoundError].
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Store persists session records across restarts.
type Store interface {
	// Load returns the persisted session for a character, or a
	// [NotFoundError] if none exists.
	Load(ctx context.Context, characterID int) (Record, error)

	// Save upserts the session record keyed by its character id.
	Save(ctx context.Context, rec Record) error

	// Delete removes the persisted session for a character. Deleting a
	// missing record is not an error.
	Delete(ctx context.Context, characterID int) error

	Close() error
}

// SQLiteStore is a [Store] backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenStore opens (creating if needed) the session database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session: store path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between concurrent callers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), storeBusyTimeout)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", storeBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("session: apply pragma: %w", err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	character_id INTEGER PRIMARY KEY,
	session_id   TEXT NOT NULL,
	created_at   TEXT NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, characterID int) (Record, error) {
	const q = `SELECT session_id, created_at FROM sessions WHERE character_id = ?`

	var (
		rec       Record
		createdAt string
	)
	rec.CharacterID = characterID
	err := s.db.QueryRowContext(ctx, q, characterID).Scan(&rec.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, NotFoundError{CharacterID: characterID}
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: load record: %w", err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("session: parse created_at: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session: save record: session id must not be empty")
	}

	const q = `
INSERT INTO sessions (character_id, session_id, created_at) VALUES (?, ?, ?)
ON CONFLICT (character_id) DO UPDATE SET
	session_id = excluded.session_id,
	created_at = excluded.created_at`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q, rec.CharacterID, rec.SessionID, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session: save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, characterID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE character_id = ?`, characterID)
	if err != nil {
		return fmt.Errorf("session: delete record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
