package proposal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"
)

func uuidFixture() uuid.UUID {
	return uuid.New()
}

func TestQueueFindAndRemoveMatchesCurrentTermOnly(t *testing.T) {
	q := NewQueue()
	q.Push(Record{Index: 5, Term: 2})
	q.Push(Record{Index: 6, Term: 2})

	_, ok := q.FindAndRemove(2, 6, 3)
	require.False(t, ok, "proposal term must equal current term to match")

	rec, ok := q.FindAndRemove(2, 6, 2)
	require.True(t, ok)
	require.Equal(t, uint64(6), rec.Index)
	require.Equal(t, 0, q.Len())
}

func TestQueueDrainStaleResolvesOlderTerms(t *testing.T) {
	q := NewQueue()
	q.Push(Record{Index: 1, Term: 1})
	q.Push(Record{Index: 2, Term: 2})

	var staled []Record
	q.DrainStale(2, func(r Record) { staled = append(staled, r) })

	require.Len(t, staled, 1)
	require.Equal(t, uint64(1), staled[0].Term)
	require.Equal(t, 1, q.Len())
}

func TestReadIndexQueueWaitsForAppliedIndex(t *testing.T) {
	q := NewReadIndexQueue()
	id, ctx := uuidFixture(), []byte("ctx")
	q.Push(ReadIndexRecord{UUID: id, Context: ctx})

	require.True(t, q.MarkReady(id, 5))

	require.Empty(t, q.PopApplied(4), "must not resolve before applied index reaches the read's commit index")
	require.Equal(t, 1, q.Len())

	ready := q.PopApplied(5)
	require.Len(t, ready, 1)
	require.Equal(t, ctx, ready[0].Context)
	require.Equal(t, 0, q.Len())
}

func TestReadIndexQueueMarkReadyIgnoresUnknownUUID(t *testing.T) {
	q := NewReadIndexQueue()
	require.False(t, q.MarkReady(uuidFixture(), 5))
}

func TestApplyBatchTryBatchMerge(t *testing.T) {
	a := NewBatch(1, 1, 2, 10, 2, []raftpb.Entry{{Index: 10, Term: 2}}, nil)
	b := NewBatch(1, 1, 2, 11, 2, []raftpb.Entry{{Index: 11, Term: 2}}, nil)

	ok := a.TryBatch(b, MaxApplyBatchSize)
	require.True(t, ok)
	require.Len(t, a.Entries, 2)
	require.Equal(t, uint64(11), a.CommitIndex)
}

func TestApplyBatchTryBatchRejectsDifferentGroup(t *testing.T) {
	a := NewBatch(1, 1, 2, 10, 2, nil, nil)
	b := NewBatch(2, 1, 2, 10, 2, nil, nil)
	require.False(t, a.TryBatch(b, MaxApplyBatchSize))
}
