package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/metrics"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// Messages is the message log: posting, visibility-filtered reads and
// sender-only edits and deletes.
type Messages struct {
	store  store.DataStore
	clock  clock.Clock
	logger zerolog.Logger
}

// NewMessages creates the message service backed by s.
func NewMessages(s store.DataStore, c clock.Clock, logger zerolog.Logger) *Messages {
	return &Messages{
		store:  s,
		clock:  c,
		logger: logger.With().Str("component", "messages").Logger(),
	}
}

// Post appends a message from sender, who must be a registered participant.
func (m *Messages) Post(ctx context.Context, sender string, in MessageInput) (models.Message, error) {
	sender = Sanitize(sender)
	if sender == "" {
		return models.Message{}, newError(KindInvalidArgument, "sender is not a participant")
	}
	if _, err := m.store.GetParticipant(ctx, sender); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Message{}, newError(KindInvalidArgument, "sender is not a participant")
		}
		return models.Message{}, unavailable(err)
	}

	in = in.sanitized()
	if err := invalid(in); err != nil {
		return models.Message{}, err
	}

	return m.Append(ctx, models.Message{
		From: sender,
		To:   in.To,
		Text: in.Text,
		Type: in.Type,
		Time: m.clock.Now().Format(TimeLayout),
	})
}

// Append persists msg as is and returns it with its assigned ID.
func (m *Messages) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	saved, err := m.store.AppendMessage(ctx, msg)
	if err != nil {
		return models.Message{}, unavailable(err)
	}
	metrics.MessagesPosted.WithLabelValues(string(saved.Type)).Inc()
	return saved, nil
}

// ParseLimit parses the optional limit query value. Empty means no limit.
// Range checks happen in List.
func ParseLimit(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Message: "limit must be a positive integer", Cause: err}
	}
	return &n, nil
}

// List returns the messages visible to viewer in insertion order. With a limit,
// only the most recent limit visible messages are kept.
func (m *Messages) List(ctx context.Context, viewer string, limit *int) ([]models.Message, error) {
	q := store.MessageQuery{Viewer: Sanitize(viewer)}
	if limit != nil {
		if *limit <= 0 {
			return nil, newError(KindInvalidArgument, "limit must be a positive integer")
		}
		q.Limit = *limit
	}

	messages, err := m.store.ListMessages(ctx, q)
	if err != nil {
		return nil, unavailable(err)
	}
	return messages, nil
}

// Edit replaces the content of a message sent by editor. ID and sender are kept
// and the time is refreshed.
func (m *Messages) Edit(ctx context.Context, id, editor string, in MessageInput) (models.Message, error) {
	msg, err := m.owned(ctx, id, editor, "edited")
	if err != nil {
		return models.Message{}, err
	}

	in = in.sanitized()
	if err := invalid(in); err != nil {
		return models.Message{}, err
	}

	msg.To = in.To
	msg.Text = in.Text
	msg.Type = in.Type
	msg.Time = m.clock.Now().Format(TimeLayout)
	if err := m.store.UpdateMessage(ctx, *msg); err != nil {
		return models.Message{}, fromStore(err, "message not found")
	}

	metrics.MessagesEdited.Inc()
	m.logger.Debug().Str("message_id", msg.ID).Str("participant", msg.From).Msg("message edited")
	return *msg, nil
}

// Delete permanently removes a message sent by requester.
func (m *Messages) Delete(ctx context.Context, id, requester string) error {
	msg, err := m.owned(ctx, id, requester, "deleted")
	if err != nil {
		return err
	}
	if err := m.store.DeleteMessage(ctx, msg.ID); err != nil {
		return fromStore(err, "message not found")
	}

	metrics.MessagesDeleted.Inc()
	m.logger.Debug().Str("message_id", msg.ID).Str("participant", msg.From).Msg("message deleted")
	return nil
}

// owned loads message id and checks that who may change it.
func (m *Messages) owned(ctx context.Context, id, who, verb string) (*models.Message, error) {
	if !store.ValidMessageID(id) {
		return nil, newError(KindInvalidArgument, "malformed message id")
	}

	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fromStore(err, "message not found")
	}
	if msg.From != Sanitize(who) {
		return nil, newError(KindForbidden, "only the sender may change this message")
	}
	if msg.IsStatus() {
		return nil, newError(KindForbidden, "status messages cannot be "+verb)
	}
	return msg, nil
}
