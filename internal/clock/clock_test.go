package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMock_AdvanceAndSet(t *testing.T) {
	req := require.New(t)
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMock(start)

	req.Equal(start, c.Now())
	req.Equal(start.Add(10*time.Second), c.Advance(10*time.Second))
	req.Equal(start.Add(10*time.Second), c.Now())

	c.Set(start)
	req.Equal(start, c.Now())
}

func TestSystem_IsMonotonicEnough(t *testing.T) {
	c := System()
	a := c.Now()
	b := c.Now()
	require.False(t, b.Before(a))
}
