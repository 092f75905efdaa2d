package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/batepapo.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/batepapo.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// A single writer connection serializes transactions instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS participants (
		name TEXT PRIMARY KEY,
		last_status INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		from_name TEXT NOT NULL,
		to_name TEXT NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_participants_last_status ON participants(last_status);
	CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertParticipant inserts a participant and its join message in one transaction.
func (s *SQLiteStore) InsertParticipant(ctx context.Context, p models.Participant, joined models.Message) (models.Message, error) {
	joined = withID(joined)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO participants (name, last_status) VALUES (?, ?)
		`, p.Name, p.LastStatus.UnixMilli())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrParticipantExists
		}
		return insertSQLiteMessage(ctx, tx, joined)
	})
	if err != nil {
		return models.Message{}, err
	}
	return joined, nil
}

// GetParticipant retrieves a participant by name.
func (s *SQLiteStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_status FROM participants WHERE name = ?
	`, name).Scan(&ms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &models.Participant{Name: name, LastStatus: time.UnixMilli(ms)}, nil
}

// TouchParticipant updates the last status timestamp.
func (s *SQLiteStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET last_status = ? WHERE name = ?
	`, at.UnixMilli(), name)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ListParticipants returns all participants ordered by name.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_status FROM participants ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return scanParticipants(rows)
}

// ListStaleParticipants returns participants whose last status is before cutoff.
func (s *SQLiteStore) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_status FROM participants WHERE last_status < ? ORDER BY name
	`, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	return scanParticipants(rows)
}

// DeleteParticipantIfStale deletes the participant only if it is still stale.
// The staleness condition is part of the DELETE so a concurrent heartbeat wins.
func (s *SQLiteStore) DeleteParticipantIfStale(ctx context.Context, name string, cutoff time.Time, left models.Message) (bool, *models.Message, error) {
	left = withID(left)
	removed := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM participants WHERE name = ? AND last_status < ?
		`, name, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		removed = true
		return insertSQLiteMessage(ctx, tx, left)
	})
	if err != nil || !removed {
		return false, nil, err
	}
	return true, &left, nil
}

// AppendMessage appends a message to the log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	m = withID(m)
	if err := insertSQLiteMessage(ctx, s.db, m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ListMessages returns messages visible to the viewer in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	const visible = `type <> 'private_message' OR to_name = ? OR from_name = ?`

	var (
		rows *sql.Rows
		err  error
	)
	if q.Limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, from_name, to_name, text, type, time FROM messages
			WHERE `+visible+`
			ORDER BY seq DESC LIMIT ?
		`, q.Viewer, q.Viewer, q.Limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, from_name, to_name, text, type, time FROM messages
			WHERE `+visible+`
			ORDER BY seq ASC
		`, q.Viewer, q.Viewer)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, from_name, to_name, text, type, time FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// UpdateMessage replaces the mutable fields of a message.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, m models.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET to_name = ?, text = ?, type = ?, time = ? WHERE id = ?
	`, m.To, m.Text, m.Type, m.Time, m.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteMessage(ctx context.Context, db execer, m models.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, from_name, to_name, text, type, time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.From, m.To, m.Text, m.Type, m.Time)
	return err
}

func scanParticipants(rows *sql.Rows) ([]models.Participant, error) {
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var (
			p  models.Participant
			ms int64
		)
		if err := rows.Scan(&p.Name, &ms); err != nil {
			return nil, err
		}
		p.LastStatus = time.UnixMilli(ms)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
