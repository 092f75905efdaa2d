// Package storetest holds the behavior every store.DataStore backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// Factory returns an empty store; it should register its own cleanup.
type Factory func(t *testing.T) store.DataStore

var base = time.UnixMilli(1_700_000_000_000)

// Run executes the conformance suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("insert participant appends join message", func(t *testing.T) { testInsertParticipant(t, newStore(t)) })
	t.Run("duplicate participant is rejected", func(t *testing.T) { testDuplicateParticipant(t, newStore(t)) })
	t.Run("touch participant", func(t *testing.T) { testTouchParticipant(t, newStore(t)) })
	t.Run("stale participants", func(t *testing.T) { testStaleParticipants(t, newStore(t)) })
	t.Run("delete if stale rechecks liveness", func(t *testing.T) { testDeleteIfStale(t, newStore(t)) })
	t.Run("private message visibility", func(t *testing.T) { testVisibility(t, newStore(t)) })
	t.Run("limit keeps most recent visible", func(t *testing.T) { testLimit(t, newStore(t)) })
	t.Run("message lookup update delete", func(t *testing.T) { testMessageCRUD(t, newStore(t)) })
	t.Run("concurrent registration of one name", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("heartbeat racing expiry", func(t *testing.T) { testHeartbeatRacingExpiry(t, newStore(t)) })
}

func status(name, text string) models.Message {
	return models.Message{From: name, To: models.Broadcast, Text: text, Type: models.TypeStatus, Time: "10:00:00"}
}

func chat(from, to, text string, typ models.MessageType) models.Message {
	return models.Message{From: from, To: to, Text: text, Type: typ, Time: "10:00:01"}
}

func texts(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Text
	}
	return out
}

func testInsertParticipant(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	joined, err := s.InsertParticipant(ctx, models.Participant{Name: "Alice", LastStatus: base}, status("Alice", "entra na sala..."))
	req.NoError(err)
	req.NotEmpty(joined.ID)
	req.True(store.ValidMessageID(joined.ID))

	p, err := s.GetParticipant(ctx, "Alice")
	req.NoError(err)
	req.Equal("Alice", p.Name)
	req.Equal(base.UnixMilli(), p.LastStatus.UnixMilli())

	msgs, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "anyone"})
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(joined, msgs[0])

	_, err = s.GetParticipant(ctx, "alice")
	req.ErrorIs(err, store.ErrNotFound)
}

func testDuplicateParticipant(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	_, err := s.InsertParticipant(ctx, models.Participant{Name: "Alice", LastStatus: base}, status("Alice", "entra na sala..."))
	req.NoError(err)
	_, err = s.InsertParticipant(ctx, models.Participant{Name: "Alice", LastStatus: base.Add(time.Second)}, status("Alice", "entra na sala..."))
	req.ErrorIs(err, store.ErrParticipantExists)

	participants, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(participants, 1)
	req.Equal(base.UnixMilli(), participants[0].LastStatus.UnixMilli())

	msgs, err := s.ListMessages(ctx, store.MessageQuery{})
	req.NoError(err)
	req.Len(msgs, 1)
}

func testTouchParticipant(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	_, err := s.InsertParticipant(ctx, models.Participant{Name: "Bob", LastStatus: base}, status("Bob", "entra na sala..."))
	req.NoError(err)

	later := base.Add(7 * time.Second)
	req.NoError(s.TouchParticipant(ctx, "Bob", later))
	p, err := s.GetParticipant(ctx, "Bob")
	req.NoError(err)
	req.Equal(later.UnixMilli(), p.LastStatus.UnixMilli())

	req.ErrorIs(s.TouchParticipant(ctx, "Ghost", later), store.ErrNotFound)
}

func testStaleParticipants(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	for i, name := range []string{"Ana", "Bia", "Caio"} {
		_, err := s.InsertParticipant(ctx, models.Participant{Name: name, LastStatus: base.Add(time.Duration(i) * 5 * time.Second)}, status(name, "entra na sala..."))
		req.NoError(err)
	}

	all, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(all, 3)

	// Ana is at +0s, Bia at +5s; a participant exactly at the cutoff is not stale.
	stale, err := s.ListStaleParticipants(ctx, base.Add(5*time.Second))
	req.NoError(err)
	req.Len(stale, 1)
	req.Equal("Ana", stale[0].Name)

	stale, err = s.ListStaleParticipants(ctx, base.Add(time.Minute))
	req.NoError(err)
	req.Len(stale, 3)
}

func testDeleteIfStale(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	_, err := s.InsertParticipant(ctx, models.Participant{Name: "Old", LastStatus: base}, status("Old", "entra na sala..."))
	req.NoError(err)
	_, err = s.InsertParticipant(ctx, models.Participant{Name: "Fresh", LastStatus: base}, status("Fresh", "entra na sala..."))
	req.NoError(err)

	cutoff := base.Add(10 * time.Second)
	stale, err := s.ListStaleParticipants(ctx, cutoff)
	req.NoError(err)
	req.Len(stale, 2)

	// Fresh heartbeats between the scan and the delete.
	req.NoError(s.TouchParticipant(ctx, "Fresh", cutoff.Add(time.Second)))

	removed, left, err := s.DeleteParticipantIfStale(ctx, "Old", cutoff, status("Old", "sai da sala..."))
	req.NoError(err)
	req.True(removed)
	req.NotNil(left)
	req.NotEmpty(left.ID)

	removed, left, err = s.DeleteParticipantIfStale(ctx, "Fresh", cutoff, status("Fresh", "sai da sala..."))
	req.NoError(err)
	req.False(removed)
	req.Nil(left)

	removed, _, err = s.DeleteParticipantIfStale(ctx, "Old", cutoff, status("Old", "sai da sala..."))
	req.NoError(err)
	req.False(removed)

	_, err = s.GetParticipant(ctx, "Old")
	req.ErrorIs(err, store.ErrNotFound)

	msgs, err := s.ListMessages(ctx, store.MessageQuery{})
	req.NoError(err)
	req.Equal([]string{"entra na sala...", "entra na sala...", "sai da sala..."}, texts(msgs))
	req.Equal("Old", msgs[2].From)
}

func testVisibility(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	for _, m := range []models.Message{
		chat("Alice", models.Broadcast, "hello all", models.TypeMessage),
		chat("Alice", "Bob", "psst bob", models.TypePrivateMessage),
		chat("Bob", "Carol", "to carol", models.TypeMessage),
		chat("Carol", "Alice", "psst alice", models.TypePrivateMessage),
	} {
		_, err := s.AppendMessage(ctx, m)
		req.NoError(err)
	}

	cases := map[string][]string{
		"Alice": {"hello all", "psst bob", "to carol", "psst alice"},
		"Bob":   {"hello all", "psst bob", "to carol"},
		"Carol": {"hello all", "to carol", "psst alice"},
		"Dave":  {"hello all", "to carol"},
		"":      {"hello all", "to carol"},
	}
	for viewer, want := range cases {
		msgs, err := s.ListMessages(ctx, store.MessageQuery{Viewer: viewer})
		req.NoError(err)
		req.Equal(want, texts(msgs), "viewer %q", viewer)
	}
}

func testLimit(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	for _, m := range []models.Message{
		chat("Alice", models.Broadcast, "1", models.TypeMessage),
		chat("Alice", "Bob", "2", models.TypePrivateMessage),
		chat("Alice", models.Broadcast, "3", models.TypeMessage),
		chat("Alice", "Bob", "4", models.TypePrivateMessage),
		chat("Alice", "Bob", "5", models.TypePrivateMessage),
	} {
		_, err := s.AppendMessage(ctx, m)
		req.NoError(err)
	}

	msgs, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Carol", Limit: 1})
	req.NoError(err)
	req.Equal([]string{"3"}, texts(msgs))

	msgs, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Carol", Limit: 10})
	req.NoError(err)
	req.Equal([]string{"1", "3"}, texts(msgs))

	msgs, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob", Limit: 3})
	req.NoError(err)
	req.Equal([]string{"3", "4", "5"}, texts(msgs))
}

func testMessageCRUD(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	first, err := s.AppendMessage(ctx, chat("Alice", models.Broadcast, "first", models.TypeMessage))
	req.NoError(err)
	second, err := s.AppendMessage(ctx, chat("Alice", models.Broadcast, "second", models.TypeMessage))
	req.NoError(err)
	req.NotEqual(first.ID, second.ID)

	got, err := s.GetMessage(ctx, first.ID)
	req.NoError(err)
	req.Equal(first, *got)

	edited := first
	edited.Text = "first, edited"
	edited.To = "Bob"
	edited.Type = models.TypePrivateMessage
	edited.Time = "11:11:11"
	req.NoError(s.UpdateMessage(ctx, edited))

	got, err = s.GetMessage(ctx, first.ID)
	req.NoError(err)
	req.Equal(edited, *got)

	msgs, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob"})
	req.NoError(err)
	req.Equal([]string{"first, edited", "second"}, texts(msgs))

	req.NoError(s.DeleteMessage(ctx, first.ID))
	_, err = s.GetMessage(ctx, first.ID)
	req.ErrorIs(err, store.ErrNotFound)
	req.ErrorIs(s.DeleteMessage(ctx, first.ID), store.ErrNotFound)
	req.ErrorIs(s.UpdateMessage(ctx, edited), store.ErrNotFound)

	msgs, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob"})
	req.NoError(err)
	req.Equal([]string{"second"}, texts(msgs))
}

func testConcurrentInsert(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertParticipant(ctx, models.Participant{Name: "Alice", LastStatus: base}, status("Alice", "entra na sala..."))
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				ok++
			case store.ErrParticipantExists:
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	req.Equal(1, ok)
	req.Equal(n-1, conflict)

	msgs, err := s.ListMessages(ctx, store.MessageQuery{})
	req.NoError(err)
	req.Len(msgs, 1)
}

func testHeartbeatRacingExpiry(t *testing.T, s store.DataStore) {
	req := require.New(t)
	ctx := context.Background()
	cutoff := base.Add(10 * time.Second)

	for i := 0; i < 20; i++ {
		_, err := s.InsertParticipant(ctx, models.Participant{Name: "Racer", LastStatus: base}, status("Racer", "entra na sala..."))
		req.NoError(err)

		var (
			wg       sync.WaitGroup
			touchErr error
			removed  bool
			delErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			touchErr = s.TouchParticipant(ctx, "Racer", cutoff.Add(time.Second))
		}()
		go func() {
			defer wg.Done()
			removed, _, delErr = s.DeleteParticipantIfStale(ctx, "Racer", cutoff, status("Racer", "sai da sala..."))
		}()
		wg.Wait()
		req.NoError(delErr)

		// A heartbeat that landed means the delete saw a fresh timestamp; an eviction
		// that landed means the heartbeat found nobody.
		if removed {
			req.ErrorIs(touchErr, store.ErrNotFound)
		} else {
			req.NoError(touchErr)
			removed, _, err = s.DeleteParticipantIfStale(ctx, "Racer", cutoff.Add(2*time.Second), status("Racer", "sai da sala..."))
			req.NoError(err)
			req.True(removed)
		}
	}
}
