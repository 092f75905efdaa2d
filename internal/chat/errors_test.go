package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/store"
)

func TestError_IsMatchesByKind(t *testing.T) {
	req := require.New(t)

	err := newError(KindForbidden, "only the sender may edit")
	req.ErrorIs(err, ErrForbidden)
	req.NotErrorIs(err, ErrNotFound)

	wrapped := fmt.Errorf("edit: %w", err)
	req.ErrorIs(wrapped, ErrForbidden)
	req.Equal(KindForbidden, KindOf(wrapped))
	req.Equal(KindUnknown, KindOf(errors.New("plain")))
}

func TestFromStore(t *testing.T) {
	req := require.New(t)

	req.NoError(fromStore(nil, "x"))

	err := fromStore(store.ErrNotFound, "message not found")
	req.ErrorIs(err, ErrNotFound)
	req.Equal("message not found", err.Error())

	boom := errors.New("connection reset")
	err = fromStore(boom, "x")
	req.ErrorIs(err, ErrUnavailable)
	req.ErrorIs(err, boom)
	req.Equal("unavailable", KindOf(err).String())
}
