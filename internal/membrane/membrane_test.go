package membrane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dando385/chainhead/internal/epochchan"
)

// S4 — session stale on epoch advance, then recovers after re-graft.
func TestSessionStaleThenRegraftRecovers(t *testing.T) {
	ctx := context.Background()
	sender, obs := epochchan.New(epochchan.Epoch{Seq: 1, Head: []byte("h1")})
	m := New(obs)

	session, err := m.Graft(ctx, NoopSigner{})
	require.NoError(t, err)
	status, err := session.PollStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOk, status)

	require.NoError(t, sender.Send(epochchan.Epoch{Seq: 2, Head: []byte("h2")}))

	_, err = session.PollStatus(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "staleEpoch")
	require.True(t, IsStaleEpoch(err))

	session2, err := m.Graft(ctx, NoopSigner{})
	require.NoError(t, err)
	status2, err := session2.PollStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOk, status2)
}

// Invariant 7 — stale-session fast-fail for every subsequent call.
func TestStaleSessionFailsEverySubsequentCall(t *testing.T) {
	ctx := context.Background()
	sender, obs := epochchan.New(epochchan.Epoch{Seq: 1})
	m := New(obs)
	session, err := m.Graft(ctx, NoopSigner{})
	require.NoError(t, err)

	require.NoError(t, sender.Send(epochchan.Epoch{Seq: 2}))

	for i := 0; i < 3; i++ {
		_, err := session.PollStatus(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "staleEpoch")
	}
}

func TestSessionDoesNotHoldMembraneReference(t *testing.T) {
	// Compile-time shape check: Session has no field referencing *Membrane.
	ctx := context.Background()
	_, obs := epochchan.New(epochchan.Epoch{Seq: 1})
	m := New(obs)
	session, err := m.Graft(ctx, NoopSigner{})
	require.NoError(t, err)
	m = nil
	_ = m
	status, err := session.PollStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOk, status)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "Ok", StatusOk.String())
	require.Equal(t, "Unauthorized", StatusUnauthorized.String())
	require.Equal(t, "InternalError", StatusInternalError.String())
}
