package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// MemoryStore keeps participants and messages in process memory.
// The two collections have separate locks; when both are needed the participant
// lock is always taken first.
type MemoryStore struct {
	pmu          sync.RWMutex
	participants map[string]models.Participant

	mmu      sync.RWMutex
	messages []models.Message
	index    map[string]int // message id -> position in messages
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]models.Participant),
		index:        make(map[string]int),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// InsertParticipant registers p and appends joined atomically.
func (s *MemoryStore) InsertParticipant(ctx context.Context, p models.Participant, joined models.Message) (models.Message, error) {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	if _, exists := s.participants[p.Name]; exists {
		return models.Message{}, ErrParticipantExists
	}
	s.participants[p.Name] = p
	return s.appendLocked(joined), nil
}

// GetParticipant retrieves a participant by name.
func (s *MemoryStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	p, ok := s.participants[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// TouchParticipant sets the last status of an existing participant.
func (s *MemoryStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return ErrNotFound
	}
	p.LastStatus = at
	s.participants[name] = p
	return nil
}

// ListParticipants returns every registered participant ordered by name.
func (s *MemoryStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	return sortedParticipants(lo.Values(s.participants)), nil
}

// ListStaleParticipants returns participants whose last status is before cutoff.
func (s *MemoryStore) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	stale := lo.Filter(lo.Values(s.participants), func(p models.Participant, _ int) bool {
		return p.Stale(cutoff)
	})
	return sortedParticipants(stale), nil
}

// DeleteParticipantIfStale re-checks staleness under the participant lock before removing.
func (s *MemoryStore) DeleteParticipantIfStale(ctx context.Context, name string, cutoff time.Time, left models.Message) (bool, *models.Message, error) {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	p, ok := s.participants[name]
	if !ok || !p.Stale(cutoff) {
		return false, nil, nil
	}
	delete(s.participants, name)
	stored := s.appendLocked(left)
	return true, &stored, nil
}

// AppendMessage adds a message to the end of the log.
func (s *MemoryStore) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	return s.appendLocked(m), nil
}

// appendLocked takes only the message lock; callers may hold the participant lock.
func (s *MemoryStore) appendLocked(m models.Message) models.Message {
	m = withID(m)

	s.mmu.Lock()
	defer s.mmu.Unlock()

	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	return m
}

// ListMessages returns the messages visible to the viewer in insertion order.
func (s *MemoryStore) ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	s.mmu.RLock()
	defer s.mmu.RUnlock()

	visible := lo.Filter(s.messages, func(m models.Message, _ int) bool {
		return m.VisibleTo(q.Viewer)
	})
	return tail(visible, q.Limit), nil
}

// GetMessage retrieves a message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mmu.RLock()
	defer s.mmu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := s.messages[i]
	return &m, nil
}

// UpdateMessage replaces a stored message in place, keeping its position.
func (s *MemoryStore) UpdateMessage(ctx context.Context, m models.Message) error {
	s.mmu.Lock()
	defer s.mmu.Unlock()

	i, ok := s.index[m.ID]
	if !ok {
		return ErrNotFound
	}
	s.messages[i] = m
	return nil
}

// DeleteMessage removes a message permanently.
func (s *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	s.mmu.Lock()
	defer s.mmu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	delete(s.index, id)
	for j := i; j < len(s.messages); j++ {
		s.index[s.messages[j].ID] = j
	}
	return nil
}

func sortedParticipants(ps []models.Participant) []models.Participant {
	slices.SortFunc(ps, func(a, b models.Participant) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ps
}
