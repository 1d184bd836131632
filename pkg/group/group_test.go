package group

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/wire"
)

func newSingleNodeGroup(t *testing.T) (*Handle, *statemachine.KVStore) {
	reg := raftstorage.NewMemoryRegistry()
	storage, err := reg.CreateGroupStorage(1, raftpb.ConfState{Voters: []uint64{1}})
	require.NoError(t, err)

	cache := replicacache.New(reg)
	require.NoError(t, cache.CacheReplicaDesc(wire.ReplicaDescriptor{GroupID: 1, ReplicaID: 1, NodeID: 1}, true))

	kv := statemachine.NewKVStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	h, err := New(DefaultConfig(), 1, 1, 1, storage, cache, kv, broker)
	require.NoError(t, err)
	return h, kv
}

// driveReadyCycle ticks the group (at most 50 times) until it has a Ready,
// then runs the ready/write/light-ready/resolve-reads cycle for as long as
// HasReady is true, mirroring what the node actor's main loop does per group.
func driveReadyCycle(t *testing.T, h *Handle) {
	t.Helper()
	for i := 0; i < 50 && !h.HasReady(); i++ {
		h.Tick()
	}
	for h.HasReady() {
		wr, _, err := h.HandleReady()
		require.NoError(t, err)
		require.NoError(t, h.HandleWrite(wr, func(wire.RaftMessage) {}))
		require.NoError(t, h.HandleLightReady(wr, func(state statemachine.GroupState, applies []statemachine.Apply) error {
			return h.sm.Apply(state, applies)
		}))
		h.ResolveReads()
	}
}

func TestSingleNodeGroupElectsItselfLeader(t *testing.T) {
	h, _ := newSingleNodeGroup(t)
	require.NoError(t, h.Campaign())
	driveReadyCycle(t, h)
	require.True(t, h.IsLeader())
}

func TestSingleNodeGroupProposeWriteApplies(t *testing.T) {
	h, kv := newSingleNodeGroup(t)
	require.NoError(t, h.Campaign())
	driveReadyCycle(t, h)
	require.True(t, h.IsLeader())

	data := []byte(`{"op":"put","key":"foo","value":"YmFy"}`)

	done := make(chan error, 1)
	err := h.ProposeWrite(data, nil, 0, func(resp interface{}, err error) {
		done <- err
	})
	require.NoError(t, err)

	driveReadyCycle(t, h)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("proposal was never resolved")
	}

	v, ok := kv.Get(1, "foo")
	require.True(t, ok)
	require.Equal(t, []byte("bar"), v)
}

func TestProposeWriteRejectsNonLeader(t *testing.T) {
	h, _ := newSingleNodeGroup(t)
	err := h.ProposeWrite([]byte("x"), nil, 0, nil)
	require.Error(t, err)
}

func TestProposeWriteRejectsEmptyData(t *testing.T) {
	h, _ := newSingleNodeGroup(t)
	require.NoError(t, h.Campaign())
	driveReadyCycle(t, h)

	err := h.ProposeWrite(nil, nil, 0, nil)
	require.Error(t, err)
}

func TestSingleNodeGroupReadIndexResolvesOnlyAfterApply(t *testing.T) {
	h, _ := newSingleNodeGroup(t)
	require.NoError(t, h.Campaign())
	driveReadyCycle(t, h)
	require.True(t, h.IsLeader())

	var resolvedCtx []byte
	done := make(chan error, 1)
	err := h.ProposeReadIndex(uuid.New(), []byte("ctx"), func(ctx []byte, err error) {
		resolvedCtx = ctx
		done <- err
	})
	require.NoError(t, err)
	require.Len(t, done, 0, "read index resolved before any ready cycle ran")

	driveReadyCycle(t, h)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read index was never resolved")
	}
	require.Equal(t, []byte("ctx"), resolvedCtx)
}
