package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/eldtechnologies/batepapo/internal/models"
)

const (
	participantPrefix = "participant:"
	messagePrefix     = "msg:"
	messageIDPrefix   = "msgid:"
	messageSeqKey     = "seq:messages"

	// badgerMaxRetries bounds optimistic transaction retries on write conflicts.
	badgerMaxRetries = 16
)

// BadgerStore persists participants and messages in an embedded BadgerDB.
//
// Keys:
//
//	participant:{name}     -> participant JSON
//	msg:{seq, 19 digits}   -> message JSON
//	msgid:{ulid}           -> msg:{seq} key
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// badgerParticipant is the on-disk participant document.
type badgerParticipant struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"last_status"` // unix nanoseconds
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(messageSeqKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// Ping reports an error once the database is closed.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on optimistic conflicts.
// fn re-reads everything it checks, so every retry re-validates its preconditions.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerMaxRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// InsertParticipant inserts p and joined in one transaction.
func (s *BadgerStore) InsertParticipant(ctx context.Context, p models.Participant, joined models.Message) (models.Message, error) {
	joined = withID(joined)
	seq, err := s.seq.Next()
	if err != nil {
		return models.Message{}, err
	}

	err = s.update(func(txn *badger.Txn) error {
		key := []byte(participantPrefix + p.Name)
		if _, err := txn.Get(key); err == nil {
			return ErrParticipantExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, key, toBadgerParticipant(p)); err != nil {
			return err
		}
		return putMessage(txn, seq, joined)
	})
	if err != nil {
		return models.Message{}, err
	}
	return joined, nil
}

// GetParticipant retrieves a participant by name.
func (s *BadgerStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	var bp badgerParticipant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(participantPrefix+name), &bp)
	})
	if err != nil {
		return nil, err
	}
	p := bp.model()
	return &p, nil
}

// TouchParticipant updates the last status timestamp.
func (s *BadgerStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		key := []byte(participantPrefix + name)
		var bp badgerParticipant
		if err := getJSON(txn, key, &bp); err != nil {
			return err
		}
		bp.LastStatus = at.UnixNano()
		return setJSON(txn, key, bp)
	})
}

// ListParticipants returns all participants ordered by name.
func (s *BadgerStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.scanParticipants(func(models.Participant) bool { return true })
}

// ListStaleParticipants returns participants whose last status is before cutoff.
func (s *BadgerStore) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.scanParticipants(func(p models.Participant) bool { return p.Stale(cutoff) })
}

func (s *BadgerStore) scanParticipants(keep func(models.Participant) bool) ([]models.Participant, error) {
	participants := []models.Participant{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(participantPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var bp badgerParticipant
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &bp)
			}); err != nil {
				return err
			}
			if p := bp.model(); keep(p) {
				participants = append(participants, p)
			}
		}
		return nil
	})
	return participants, err
}

// DeleteParticipantIfStale deletes the participant only if it is still stale.
// A heartbeat committed after this transaction's read makes the commit fail with a
// conflict, and the retry sees the fresh timestamp.
func (s *BadgerStore) DeleteParticipantIfStale(ctx context.Context, name string, cutoff time.Time, left models.Message) (bool, *models.Message, error) {
	left = withID(left)
	removed := false

	err := s.update(func(txn *badger.Txn) error {
		removed = false
		key := []byte(participantPrefix + name)
		var bp badgerParticipant
		if err := getJSON(txn, key, &bp); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !bp.model().Stale(cutoff) {
			return nil
		}
		seq, err := s.seq.Next()
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		removed = true
		return putMessage(txn, seq, left)
	})
	if err != nil || !removed {
		return false, nil, err
	}
	return true, &left, nil
}

// AppendMessage appends a message to the log.
func (s *BadgerStore) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	m = withID(m)
	seq, err := s.seq.Next()
	if err != nil {
		return models.Message{}, err
	}
	if err := s.update(func(txn *badger.Txn) error {
		return putMessage(txn, seq, m)
	}); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ListMessages returns messages visible to the viewer in insertion order.
// With a limit the log is walked backwards from the newest key and stops early.
func (s *BadgerStore) ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = q.Limit > 0
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(messagePrefix)
		seekKey := prefix
		if opts.Reverse {
			// Past the largest 19-digit sequence
			seekKey = append([]byte(messagePrefix), []byte("9999999999999999999")...)
		}
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			var m models.Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			if !m.VisibleTo(q.Viewer) {
				continue
			}
			messages = append(messages, m)
			if q.Limit > 0 && len(messages) == q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// GetMessage retrieves a message by ID.
func (s *BadgerStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := messageKeyFor(txn, id)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessage replaces a stored message, keeping its position in the log.
func (s *BadgerStore) UpdateMessage(ctx context.Context, m models.Message) error {
	return s.update(func(txn *badger.Txn) error {
		key, err := messageKeyFor(txn, m.ID)
		if err != nil {
			return err
		}
		return setJSON(txn, key, m)
	})
}

// DeleteMessage removes a message and its id index entry.
func (s *BadgerStore) DeleteMessage(ctx context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		key, err := messageKeyFor(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(messageIDPrefix + id))
	})
}

func messageKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%019d", messagePrefix, seq))
}

func messageKeyFor(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get([]byte(messageIDPrefix + id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func putMessage(txn *badger.Txn, seq uint64, m models.Message) error {
	key := messageKey(seq)
	if err := setJSON(txn, key, m); err != nil {
		return err
	}
	return txn.Set([]byte(messageIDPrefix+m.ID), key)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func toBadgerParticipant(p models.Participant) badgerParticipant {
	return badgerParticipant{Name: p.Name, LastStatus: p.LastStatus.UnixNano()}
}

func (bp badgerParticipant) model() models.Participant {
	return models.Participant{Name: bp.Name, LastStatus: time.Unix(0, bp.LastStatus)}
}
