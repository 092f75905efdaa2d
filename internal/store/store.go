//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks github.com/eldtechnologies/batepapo/internal/store DataStore
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/batepapo/internal/models"
)

var (
	// ErrNotFound is returned when a participant or message does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrParticipantExists is returned when inserting a name that is already registered.
	ErrParticipantExists = errors.New("store: participant already exists")
)

// MessageQuery selects messages visible to Viewer, in insertion order.
// A positive Limit keeps only the most recent Limit visible messages.
type MessageQuery struct {
	Viewer string
	Limit  int
}

// ParticipantStore persists participants.
type ParticipantStore interface {
	// InsertParticipant inserts p if its name is free and appends joined in the same
	// operation. It returns the stored join message.
	InsertParticipant(ctx context.Context, p models.Participant, joined models.Message) (models.Message, error)
	GetParticipant(ctx context.Context, name string) (*models.Participant, error)
	TouchParticipant(ctx context.Context, name string, at time.Time) error
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	// ListStaleParticipants returns participants whose last status is before cutoff.
	ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error)
	// DeleteParticipantIfStale removes name only if its last status is still before
	// cutoff, appending left in the same operation. It reports whether the
	// participant was removed.
	DeleteParticipantIfStale(ctx context.Context, name string, cutoff time.Time, left models.Message) (bool, *models.Message, error)
}

// MessageStore persists the message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) error
	DeleteMessage(ctx context.Context, id string) error
}

// DataStore is the persistence collaborator used by the chat core.
// MemoryStore, SQLiteStore, PostgresStore and BadgerStore implement it.
type DataStore interface {
	Close() error
	Ping(ctx context.Context) error

	ParticipantStore
	MessageStore
}
