package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidMessageID(t *testing.T) {
	req := require.New(t)
	req.True(ValidMessageID(newMessageID()))
	req.False(ValidMessageID(""))
	req.False(ValidMessageID("not-a-ulid"))
	req.False(ValidMessageID("64b7f3c2e4b0a1a2b3c4d5e6"))
}

func TestTail(t *testing.T) {
	req := require.New(t)
	s := []int{1, 2, 3, 4}
	req.Equal([]int{3, 4}, tail(s, 2))
	req.Equal(s, tail(s, 0))
	req.Equal(s, tail(s, 10))
}
