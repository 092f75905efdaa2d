package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/batepapo/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS participants (
	name TEXT PRIMARY KEY,
	last_status TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	from_name TEXT NOT NULL,
	to_name TEXT NOT NULL,
	text TEXT NOT NULL,
	type TEXT NOT NULL,
	time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_last_status ON participants(last_status);
CREATE INDEX IF NOT EXISTS idx_messages_to_from ON messages(to_name, from_name);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations creates the schema if it does not exist.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// Reset removes every participant and message. Intended for tests.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE participants, messages RESTART IDENTITY`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertParticipant inserts a participant and its join message in one transaction.
func (s *PostgresStore) InsertParticipant(ctx context.Context, p models.Participant, joined models.Message) (models.Message, error) {
	joined = withID(joined)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO participants (name, last_status) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, p.Name, p.LastStatus)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrParticipantExists
		}
		return insertPostgresMessage(ctx, tx, joined)
	})
	if err != nil {
		return models.Message{}, err
	}
	return joined, nil
}

// GetParticipant retrieves a participant by name.
func (s *PostgresStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT name, last_status FROM participants WHERE name = $1
	`, name).Scan(&p.Name, &p.LastStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// TouchParticipant updates the last status timestamp.
func (s *PostgresStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE participants SET last_status = $1 WHERE name = $2
	`, at, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns all participants ordered by name.
func (s *PostgresStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, last_status FROM participants ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

// ListStaleParticipants returns participants whose last status is before cutoff.
func (s *PostgresStore) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, last_status FROM participants WHERE last_status < $1 ORDER BY name
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

// DeleteParticipantIfStale deletes the participant only if it is still stale.
func (s *PostgresStore) DeleteParticipantIfStale(ctx context.Context, name string, cutoff time.Time, left models.Message) (bool, *models.Message, error) {
	left = withID(left)
	removed := false

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM participants WHERE name = $1 AND last_status < $2
		`, name, cutoff)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		removed = true
		return insertPostgresMessage(ctx, tx, left)
	})
	if err != nil || !removed {
		return false, nil, err
	}
	return true, &left, nil
}

// AppendMessage appends a message to the log.
func (s *PostgresStore) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	m = withID(m)
	if err := insertPostgresMessage(ctx, s.pool, m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ListMessages returns messages visible to the viewer in insertion order.
func (s *PostgresStore) ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	const visible = `type <> 'private_message' OR to_name = $1 OR from_name = $1`

	var (
		rows pgx.Rows
		err  error
	)
	if q.Limit > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT id, from_name, to_name, text, type, time FROM messages
			WHERE `+visible+`
			ORDER BY seq DESC LIMIT $2
		`, q.Viewer, q.Limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, from_name, to_name, text, type, time FROM messages
			WHERE `+visible+`
			ORDER BY seq ASC
		`, q.Viewer)
	}
	if err != nil {
		return nil, err
	}

	messages, err := pgx.CollectRows(rows, scanPostgresMessage)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_name, to_name, text, type, time FROM messages WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanPostgresMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpdateMessage replaces the mutable fields of a message.
func (s *PostgresStore) UpdateMessage(ctx context.Context, m models.Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET to_name = $1, text = $2, type = $3, time = $4 WHERE id = $5
	`, m.To, m.Text, string(m.Type), m.Time, m.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPostgresMessage(ctx context.Context, db pgExecer, m models.Message) error {
	_, err := db.Exec(ctx, `
		INSERT INTO messages (id, from_name, to_name, text, type, time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.From, m.To, m.Text, string(m.Type), m.Time)
	return err
}

func scanPostgresMessage(row pgx.CollectableRow) (models.Message, error) {
	var (
		m   models.Message
		typ string
	)
	err := row.Scan(&m.ID, &m.From, &m.To, &m.Text, &typ, &m.Time)
	m.Type = models.MessageType(typ)
	return m, err
}

func collectParticipants(rows pgx.Rows) ([]models.Participant, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Participant, error) {
		var p models.Participant
		err := row.Scan(&p.Name, &p.LastStatus)
		return p, err
	})
}
