package finalizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dando385/chainhead/internal/wireabi"
)

// fakeChain is a minimal in-memory Chain double: current tip and a single
// canonical head, settable per-test to simulate reorgs.
type fakeChain struct {
	tip  uint64
	head wireabi.CurrentHead
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.tip, nil
}

func (f *fakeChain) Call(ctx context.Context, calldata []byte) ([]byte, error) {
	return encodeHeadReturnForTest(f.head), nil
}

// encodeHeadReturnForTest builds a (uint64, bytes) ABI return at canonical
// offset 32, mirroring what DecodeHeadReturn expects.
func encodeHeadReturnForTest(h wireabi.CurrentHead) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(h.Seq >> (8 * i))
	}
	offsetWord := make([]byte, 32)
	offsetWord[31] = 32
	out = append(out, offsetWord...)
	lenWord := make([]byte, 32)
	n := len(h.CID)
	for i := 0; i < 4; i++ {
		lenWord[31-i] = byte(n >> (8 * i))
	}
	out = append(out, lenWord...)
	out = append(out, h.CID...)
	pad := (32 - n%32) % 32
	out = append(out, make([]byte, pad)...)
	return out
}

func observedAt(seq, block, logIndex uint64, txHashByte byte, cid []byte) wireabi.ObservedEvent {
	var txHash [32]byte
	txHash[0] = txHashByte
	return wireabi.ObservedEvent{
		Seq:         seq,
		CID:         cid,
		BlockNumber: block,
		LogIndex:    logIndex,
		TxHash:      txHash,
	}
}

func newFinalizer(t *testing.T, k uint64, chain *fakeChain) *Finalizer {
	t.Helper()
	f, err := NewBuilder().WithConfirmationDepth(k).WithChain(chain).Build()
	require.NoError(t, err)
	return f
}

// S2 — finalizer gates at K=2.
func TestDrainEligibleGatesOnConfirmationDepth(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{tip: 10, head: wireabi.CurrentHead{Seq: 1, CID: []byte("cid-1")}}
	f := newFinalizer(t, 2, chain)
	f.Feed(observedAt(1, 10, 0, 0xAA, []byte("cid-1")))

	chain.tip = 10
	out, err := f.DrainEligible(ctx, chain.tip)
	require.NoError(t, err)
	require.Empty(t, out)

	chain.tip = 11
	out, err = f.DrainEligible(ctx, chain.tip)
	require.NoError(t, err)
	require.Empty(t, out)

	chain.tip = 12
	out, err = f.DrainEligible(ctx, chain.tip)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []byte("cid-1"), out[0].CID)
	require.Equal(t, uint64(1), out[0].Seq)
}

// S3 — finalizer filters a reorg'd event via the canonical cross-check.
func TestDrainEligibleFiltersReorg(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{tip: 0, head: wireabi.CurrentHead{Seq: 0, CID: nil}}
	f := newFinalizer(t, 2, chain)
	f.Feed(observedAt(1, 1, 0, 0xBB, []byte("cid-reorg")))

	chain.tip = 4 // satisfies K=2 past block 1
	out, err := f.DrainEligible(ctx, chain.tip)
	require.NoError(t, err)
	require.Empty(t, out, "reorg'd event must not appear even though strategy-eligible")
}

// Invariant 4 — at-most-once finalization.
func TestAtMostOnceAcrossDrains(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{tip: 100, head: wireabi.CurrentHead{Seq: 1, CID: []byte("cid-1")}}
	f := newFinalizer(t, 2, chain)
	f.Feed(observedAt(1, 1, 0, 0xCC, []byte("cid-1")))

	out1, err := f.DrainEligible(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out1, 1)

	// Re-feed the same event (e.g. indexer re-emitted after reconnect).
	f.Feed(observedAt(1, 1, 0, 0xCC, []byte("cid-1")))
	out2, err := f.DrainEligible(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, out2, "same (tx_hash, log_index) must not be emitted twice")
}

// Invariant 6 — finalizer liveness.
func TestLivenessUnderSufficientConfirmations(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{tip: 0, head: wireabi.CurrentHead{Seq: 9, CID: []byte("cid-9")}}
	f := newFinalizer(t, 3, chain)
	f.Feed(observedAt(9, 5, 2, 0xDD, []byte("cid-9")))

	chain.tip = 5 + 3 + 1 // K+1 past the event's block
	out, err := f.DrainEligible(ctx, chain.tip)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint64(9), out[0].Seq)
}

// scriptedChain answers successive head() calls from heads, in order.
type scriptedChain struct {
	heads []wireabi.CurrentHead
	calls int
}

func (s *scriptedChain) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (s *scriptedChain) Call(ctx context.Context, calldata []byte) ([]byte, error) {
	h := s.heads[s.calls]
	s.calls++
	return encodeHeadReturnForTest(h), nil
}

func TestDrainEligibleOrdersByBlockThenLogIndex(t *testing.T) {
	ctx := context.Background()
	// head() answers c1, c2, c3 in turn, so every event passes the
	// cross-check only if DrainEligible visits them in (block, log_index)
	// order.
	chain := &scriptedChain{heads: []wireabi.CurrentHead{
		{Seq: 1, CID: []byte("c1")},
		{Seq: 2, CID: []byte("c2")},
		{Seq: 3, CID: []byte("c3")},
	}}
	f, err := NewBuilder().WithConfirmationDepth(0).WithChain(chain).Build()
	require.NoError(t, err)
	f.Feed(observedAt(3, 5, 1, 0x01, []byte("c3")))
	f.Feed(observedAt(1, 4, 0, 0x02, []byte("c1")))
	f.Feed(observedAt(2, 5, 0, 0x03, []byte("c2")))

	out, err := f.DrainEligible(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, uint64(1), out[0].Seq)
	require.Equal(t, uint64(2), out[1].Seq)
	require.Equal(t, uint64(3), out[2].Seq)
}

func TestConfirmationDepthSaturatingAdd(t *testing.T) {
	s := ConfirmationDepth{K: 10}
	ev := wireabi.ObservedEvent{BlockNumber: ^uint64(0) - 2} // near max uint64
	require.False(t, s.IsEligible(ev, ^uint64(0)), "overflowing threshold must never be eligible")
}

func TestBuildRequiresChain(t *testing.T) {
	_, err := NewBuilder().WithConfirmationDepth(1).Build()
	require.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestBuildDefaultsToDepth6(t *testing.T) {
	chain := &fakeChain{tip: 0}
	f, err := NewBuilder().WithChain(chain).Build()
	require.NoError(t, err)
	require.Equal(t, ConfirmationDepth{K: DefaultConfirmationDepth}, f.strategy)
}
