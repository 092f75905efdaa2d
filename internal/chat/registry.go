package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/metrics"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

const (
	joinText  = "entra na sala..."
	leaveText = "sai da sala..."

	// TimeLayout formats the time field of messages.
	TimeLayout = "15:04:05"
)

// Registry tracks participants and their liveness.
type Registry struct {
	store  store.ParticipantStore
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRegistry creates a registry backed by s.
func NewRegistry(s store.ParticipantStore, c clock.Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  s,
		clock:  c,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a participant and its join message in one store operation.
// A taken name fails with a Conflict and changes nothing.
func (r *Registry) Register(ctx context.Context, name string) (models.Participant, error) {
	name = Sanitize(name)
	if err := invalid(registration{Name: name}); err != nil {
		return models.Participant{}, err
	}

	now := r.clock.Now()
	p := models.Participant{Name: name, LastStatus: now}
	if _, err := r.store.InsertParticipant(ctx, p, statusMessage(name, joinText, now)); err != nil {
		if errors.Is(err, store.ErrParticipantExists) {
			return models.Participant{}, newError(KindConflict, "name already in use")
		}
		return models.Participant{}, unavailable(err)
	}

	metrics.ParticipantsRegistered.Inc()
	metrics.MessagesPosted.WithLabelValues(string(models.TypeStatus)).Inc()
	r.logger.Info().Str("participant", name).Msg("participant joined")
	return p, nil
}

// Heartbeat refreshes the participant's last status.
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	name = Sanitize(name)
	if name == "" {
		metrics.Heartbeats.WithLabelValues("unknown").Inc()
		return newError(KindNotFound, "participant not found")
	}

	if err := r.store.TouchParticipant(ctx, name, r.clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.Heartbeats.WithLabelValues("unknown").Inc()
		}
		return fromStore(err, "participant not found")
	}
	metrics.Heartbeats.WithLabelValues("ok").Inc()
	return nil
}

// Get returns a single participant by name.
func (r *Registry) Get(ctx context.Context, name string) (*models.Participant, error) {
	p, err := r.store.GetParticipant(ctx, Sanitize(name))
	if err != nil {
		return nil, fromStore(err, "participant not found")
	}
	return p, nil
}

// List returns every registered participant.
func (r *Registry) List(ctx context.Context) ([]models.Participant, error) {
	participants, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return participants, nil
}

// ExpireStale evicts participants whose last status is older than threshold at now.
//
// Candidates come from a scan, but each one is removed only if it is still stale
// when the store deletes it, so a heartbeat that lands after the scan keeps the
// participant. Every eviction appends a departure message in the same store
// operation. On a store failure the participants evicted so far are returned
// along with the error.
func (r *Registry) ExpireStale(ctx context.Context, threshold time.Duration, now time.Time) ([]models.Participant, error) {
	cutoff := now.Add(-threshold)

	candidates, err := r.store.ListStaleParticipants(ctx, cutoff)
	if err != nil {
		return nil, unavailable(err)
	}

	evicted := []models.Participant{}
	for _, p := range candidates {
		removed, _, err := r.store.DeleteParticipantIfStale(ctx, p.Name, cutoff, statusMessage(p.Name, leaveText, now))
		if err != nil {
			return evicted, unavailable(err)
		}
		if !removed {
			r.logger.Debug().Str("participant", p.Name).Msg("participant came back before eviction")
			continue
		}

		evicted = append(evicted, p)
		metrics.ParticipantsEvicted.Inc()
		metrics.MessagesPosted.WithLabelValues(string(models.TypeStatus)).Inc()
		r.logger.Info().
			Str("participant", p.Name).
			Time("last_status", p.LastStatus).
			Msg("participant left")
	}
	return evicted, nil
}

func statusMessage(name, text string, at time.Time) models.Message {
	return models.Message{
		From: name,
		To:   models.Broadcast,
		Text: text,
		Type: models.TypeStatus,
		Time: at.Format(TimeLayout),
	}
}
