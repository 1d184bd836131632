package tick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualTickFiresOnlyWhenTicked(t *testing.T) {
	m := NewManual()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	m.Tick()
	require.NoError(t, m.Recv(context.Background()))
}

func TestRealTickerFires(t *testing.T) {
	r := NewReal(5 * time.Millisecond)
	defer r.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Recv(ctx))
}
