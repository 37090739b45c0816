package breaker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewGate(rdb), mr
}

func TestGateOpenByDefault(t *testing.T) {
	gate, _ := newTestGate(t)

	state, reason := gate.Check(context.Background())
	require.Equal(t, StateOpen, state)
	require.Empty(t, reason)
}

func TestGateTripAndReset(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, gate.Trip(ctx, "daily loss limit breached", "risk-monitor"))

	state, reason := gate.Check(ctx)
	require.Equal(t, StateTripped, state)
	require.Equal(t, "daily loss limit breached", reason)

	require.NoError(t, gate.Reset(ctx))

	state, _ = gate.Check(ctx)
	require.Equal(t, StateOpen, state)
}

func TestGateMalformedRecordStillTripped(t *testing.T) {
	gate, mr := newTestGate(t)

	require.NoError(t, mr.Set(defaultStateKey, "not-json"))

	state, reason := gate.Check(context.Background())
	require.Equal(t, StateTripped, state)
	require.NotEmpty(t, reason)
}

func TestGateFailsClosedWhenStoreUnreachable(t *testing.T) {
	gate, mr := newTestGate(t)
	mr.Close()

	state, reason := gate.Check(context.Background())
	require.Equal(t, StateTripped, state)
	require.Equal(t, "circuit breaker state unavailable", reason)
}
