package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dando385/chainhead/internal/finalizer"
)

func TestPersistAndCount(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev := finalizer.FinalizedEvent{
		Seq: 1, CID: []byte("ipfs://first"), CIDHashHex: "aa",
		BlockNumber: 10, TxHashHex: "bb", LogIndex: 0, WriterHex: "cc",
	}
	require.NoError(t, s.Persist(ctx, ev))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPersistIsIdempotentOnDuplicateKey(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev := finalizer.FinalizedEvent{
		Seq: 1, CID: []byte("ipfs://first"), CIDHashHex: "aa",
		BlockNumber: 10, TxHashHex: "bb", LogIndex: 0, WriterHex: "cc",
	}
	require.NoError(t, s.Persist(ctx, ev))
	require.NoError(t, s.Persist(ctx, ev))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRunConsumesUntilChannelCloses(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ch := make(chan finalizer.FinalizedEvent, 2)
	ch <- finalizer.FinalizedEvent{TxHashHex: "t1", LogIndex: 0}
	ch <- finalizer.FinalizedEvent{TxHashHex: "t2", LogIndex: 0}
	close(ch)

	require.NoError(t, s.Run(context.Background(), ch))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
