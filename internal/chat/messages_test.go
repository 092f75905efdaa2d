package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
	"github.com/eldtechnologies/batepapo/internal/store/mocks"
)

// unknownID is a well-formed ULID that no store ever assigned.
const unknownID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

func TestMessages_Post(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice")
	f.clock.Advance(65 * time.Second)

	msg := f.post(t, "Alice", models.Broadcast, "hi", models.TypeMessage)
	req.NotEmpty(msg.ID)
	req.Equal("Alice", msg.From)
	req.Equal("12:01:05", msg.Time)

	for _, viewer := range []string{"", "Alice", "Carol"} {
		msgs := f.all(t, viewer)
		req.Len(msgs, 2, viewer)
		req.Equal(msg, msgs[1])
	}

	_, err := f.messages.Post(ctx, "Bob", MessageInput{To: models.Broadcast, Text: "hi", Type: models.TypeMessage})
	req.ErrorIs(err, ErrInvalidArgument)
	_, err = f.messages.Post(ctx, "", MessageInput{To: models.Broadcast, Text: "hi", Type: models.TypeMessage})
	req.ErrorIs(err, ErrInvalidArgument)
	req.Len(f.all(t, ""), 2)
}

func TestMessages_PostValidatesContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice")

	tests := []struct {
		name string
		in   MessageInput
	}{
		{"missing to", MessageInput{Text: "hi", Type: models.TypeMessage}},
		{"missing text", MessageInput{To: models.Broadcast, Type: models.TypeMessage}},
		{"markup only text", MessageInput{To: models.Broadcast, Text: "<img src=x>", Type: models.TypeMessage}},
		{"status type", MessageInput{To: models.Broadcast, Text: "hi", Type: models.TypeStatus}},
		{"unknown type", MessageInput{To: models.Broadcast, Text: "hi", Type: "shout"}},
		{"missing type", MessageInput{To: models.Broadcast, Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Post(ctx, "Alice", tt.in)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	require.Len(t, f.all(t, "Alice"), 1)
}

func TestMessages_PostStripsMarkup(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.register(t, "Alice")

	msg := f.post(t, "Alice", "<b>Todos</b>", "<script>alert(1)</script>hello <i>world</i>", "message")
	req.Equal(models.Broadcast, msg.To)
	req.Equal("hello world", msg.Text)
	req.Equal(models.TypeMessage, msg.Type)
}

func TestMessages_PrivateVisibility(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.register(t, "Alice", "Bob", "Carol")

	private := f.post(t, "Alice", "Bob", "psst", models.TypePrivateMessage)
	public := f.post(t, "Carol", models.Broadcast, "hello all", models.TypeMessage)

	for _, viewer := range []string{"Alice", "Bob"} {
		msgs := f.all(t, viewer)
		req.Contains(msgs, private, viewer)
		req.Contains(msgs, public, viewer)
	}
	for _, viewer := range []string{"Carol", "Dave", ""} {
		msgs := f.all(t, viewer)
		req.NotContains(msgs, private, viewer)
		req.Contains(msgs, public, viewer)
	}
}

func TestMessages_ListLimit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice", "Bob") // two status messages

	m1 := f.post(t, "Alice", models.Broadcast, "one", models.TypeMessage)
	f.post(t, "Alice", "Bob", "secret", models.TypePrivateMessage)
	m3 := f.post(t, "Bob", models.Broadcast, "three", models.TypeMessage)
	f.post(t, "Bob", "Alice", "secret back", models.TypePrivateMessage)

	// The limit applies to what Carol can see, not to the raw log.
	msgs, err := f.messages.List(ctx, "Carol", intPtr(2))
	req.NoError(err)
	req.Equal([]models.Message{m1, m3}, msgs)

	msgs, err = f.messages.List(ctx, "Carol", intPtr(100))
	req.NoError(err)
	req.Len(msgs, 4)

	msgs, err = f.messages.List(ctx, "Alice", intPtr(1))
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("secret back", msgs[0].Text)

	for _, bad := range []int{0, -1} {
		_, err = f.messages.List(ctx, "Carol", intPtr(bad))
		req.ErrorIs(err, ErrInvalidArgument)
	}
}

func TestParseLimit(t *testing.T) {
	req := require.New(t)

	limit, err := ParseLimit("")
	req.NoError(err)
	req.Nil(limit)

	limit, err = ParseLimit("3")
	req.NoError(err)
	req.Equal(3, *limit)

	// Range is checked by List.
	limit, err = ParseLimit("-1")
	req.NoError(err)
	req.Equal(-1, *limit)

	for _, raw := range []string{"abc", "1.5", "2x"} {
		_, err = ParseLimit(raw)
		req.ErrorIs(err, ErrInvalidArgument, raw)
	}
}

func TestMessages_Edit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice", "Bob")
	original := f.post(t, "Alice", models.Broadcast, "hi", models.TypeMessage)

	f.clock.Advance(time.Minute)
	edited, err := f.messages.Edit(ctx, original.ID, "Alice", MessageInput{To: "Bob", Text: "hi Bob", Type: models.TypePrivateMessage})
	req.NoError(err)
	req.Equal(original.ID, edited.ID)
	req.Equal("Alice", edited.From)
	req.Equal("Bob", edited.To)
	req.Equal("hi Bob", edited.Text)
	req.Equal(models.TypePrivateMessage, edited.Type)
	req.Equal("12:01:00", edited.Time)

	// Position in the log is kept.
	msgs := f.all(t, "Bob")
	req.Equal(edited, msgs[len(msgs)-1])
	req.NotContains(f.all(t, "Carol"), edited)
}

func TestMessages_EditRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice", "Bob")
	original := f.post(t, "Alice", models.Broadcast, "hi", models.TypeMessage)
	status := f.all(t, "")[0]
	good := MessageInput{To: models.Broadcast, Text: "changed", Type: models.TypeMessage}

	tests := []struct {
		name   string
		id     string
		editor string
		in     MessageInput
		want   error
	}{
		{"malformed id", "not-an-id", "Alice", good, ErrInvalidArgument},
		{"unknown id", unknownID, "Alice", good, ErrNotFound},
		{"other participant", original.ID, "Bob", good, ErrForbidden},
		{"no identity", original.ID, "", good, ErrForbidden},
		{"status message", status.ID, status.From, good, ErrForbidden},
		{"invalid content", original.ID, "Alice", MessageInput{To: models.Broadcast, Type: models.TypeMessage}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Edit(ctx, tt.id, tt.editor, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	msgs := f.all(t, "")
	require.Equal(t, status, msgs[0])
	require.Equal(t, original, msgs[2])
}

func TestMessages_Delete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "Alice", "Bob")
	msg := f.post(t, "Alice", models.Broadcast, "oops", models.TypeMessage)
	status := f.all(t, "")[0]

	req.ErrorIs(f.messages.Delete(ctx, msg.ID, "Bob"), ErrForbidden)
	req.ErrorIs(f.messages.Delete(ctx, status.ID, status.From), ErrForbidden)
	req.ErrorIs(f.messages.Delete(ctx, "nope", "Alice"), ErrInvalidArgument)
	req.ErrorIs(f.messages.Delete(ctx, unknownID, "Alice"), ErrNotFound)
	req.Contains(f.all(t, ""), msg)

	req.NoError(f.messages.Delete(ctx, msg.ID, "Alice"))
	req.NotContains(f.all(t, ""), msg)
	req.ErrorIs(f.messages.Delete(ctx, msg.ID, "Alice"), ErrNotFound)
}

func TestMessages_StoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	ds := mocks.NewMockDataStore(ctrl)
	messages := NewMessages(ds, clock.NewMock(t0), zerolog.Nop())
	ctx := context.Background()
	boom := errors.New("connection refused")
	in := MessageInput{To: models.Broadcast, Text: "hi", Type: models.TypeMessage}

	t.Run("sender lookup", func(t *testing.T) {
		ds.EXPECT().GetParticipant(gomock.Any(), "Alice").Return(nil, boom)
		_, err := messages.Post(ctx, "Alice", in)
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("append", func(t *testing.T) {
		ds.EXPECT().GetParticipant(gomock.Any(), "Alice").Return(&models.Participant{Name: "Alice", LastStatus: t0}, nil)
		ds.EXPECT().AppendMessage(gomock.Any(), models.Message{
			From: "Alice", To: models.Broadcast, Text: "hi", Type: models.TypeMessage, Time: "12:00:00",
		}).Return(models.Message{}, boom)
		_, err := messages.Post(ctx, "Alice", in)
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("list", func(t *testing.T) {
		ds.EXPECT().ListMessages(gomock.Any(), gomock.Any()).Return(nil, boom)
		_, err := messages.List(ctx, "Alice", nil)
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("edit lookup", func(t *testing.T) {
		ds.EXPECT().GetMessage(gomock.Any(), unknownID).Return(nil, boom)
		_, err := messages.Edit(ctx, unknownID, "Alice", in)
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("deleted between lookup and update", func(t *testing.T) {
		ds.EXPECT().GetMessage(gomock.Any(), unknownID).Return(&models.Message{
			ID: unknownID, From: "Alice", To: models.Broadcast, Text: "x", Type: models.TypeMessage,
		}, nil)
		ds.EXPECT().DeleteMessage(gomock.Any(), unknownID).Return(store.ErrNotFound)
		require.ErrorIs(t, messages.Delete(ctx, unknownID, "Alice"), ErrNotFound)
	})
}
