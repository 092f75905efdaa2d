package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
	"github.com/eldtechnologies/batepapo/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		return store.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		s, err := store.NewBadgerStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// TestPostgresStore needs a disposable database in TEST_DATABASE_URL.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) store.DataStore {
		ctx := context.Background()
		s, err := store.NewPostgresStore(ctx, url)
		require.NoError(t, err)
		require.NoError(t, s.RunMigrations(ctx))
		require.NoError(t, s.Reset(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := store.NewSQLiteStore(ctx, path)
	req.NoError(err)
	m, err := s.AppendMessage(ctx, storetestMessage("persisted"))
	req.NoError(err)
	req.NoError(s.Close())

	s, err = store.NewSQLiteStore(ctx, path)
	req.NoError(err)
	defer s.Close()
	got, err := s.GetMessage(ctx, m.ID)
	req.NoError(err)
	req.Equal("persisted", got.Text)
}

func TestBadgerStore_Reopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewBadgerStore(dir)
	req.NoError(err)
	first, err := s.AppendMessage(ctx, storetestMessage("before"))
	req.NoError(err)
	req.NoError(s.Close())

	s, err = store.NewBadgerStore(dir)
	req.NoError(err)
	defer s.Close()
	_, err = s.AppendMessage(ctx, storetestMessage("after"))
	req.NoError(err)

	msgs, err := s.ListMessages(ctx, store.MessageQuery{})
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(first.ID, msgs[0].ID)
	req.Equal("after", msgs[1].Text)
}

func storetestMessage(text string) models.Message {
	return models.Message{From: "Alice", To: models.Broadcast, Text: text, Type: models.TypeMessage, Time: "12:00:00"}
}
