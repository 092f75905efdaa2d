package chat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.MemoryStore
	clock    *clock.Mock
	registry *Registry
	messages *Messages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	c := clock.NewMock(t0)
	logger := zerolog.Nop()
	return &fixture{
		store:    s,
		clock:    c,
		registry: NewRegistry(s, c, logger),
		messages: NewMessages(s, c, logger),
	}
}

func (f *fixture) register(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := f.registry.Register(context.Background(), name)
		require.NoError(t, err)
	}
}

func (f *fixture) all(t *testing.T, viewer string) []models.Message {
	t.Helper()
	msgs, err := f.messages.List(context.Background(), viewer, nil)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) post(t *testing.T, from, to, text string, typ models.MessageType) models.Message {
	t.Helper()
	msg, err := f.messages.Post(context.Background(), from, MessageInput{To: to, Text: text, Type: typ})
	require.NoError(t, err)
	return msg
}

func intPtr(n int) *int { return &n }
