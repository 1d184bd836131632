package multiraft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/node"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/tick"
	"github.com/cuemby/multiraft/pkg/transport"
	"github.com/cuemby/multiraft/pkg/wire"
)

func newTestMultiRaft(t *testing.T) (*MultiRaft, *statemachine.KVStore, *tick.Manual) {
	t.Helper()
	reg := raftstorage.NewMemoryRegistry()
	cache := replicacache.New(reg)
	kv := statemachine.NewKVStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	manualTicker := tick.NewManual()
	n := node.New(node.DefaultConfig(1), reg, cache, kv, transport.NewLocal(), broker, manualTicker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mr, err := New(ctx, n)
	require.NoError(t, err)
	t.Cleanup(mr.Stop)

	return mr, kv, manualTicker
}

func tickUntilLeader(t *testing.T, mr *MultiRaft, ticker *tick.Manual, groupID uint64) {
	t.Helper()
	for i := 0; i < 50; i++ {
		status, err := mr.Query(groupID)
		if err == nil && status.IsLeader {
			return
		}
		ticker.Tick()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("group never became leader")
}

func TestMultiRaftWriteBlockingRoundTrip(t *testing.T) {
	mr, kv, ticker := newTestMultiRaft(t)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	require.NoError(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))
	require.NoError(t, mr.Campaign(1))
	tickUntilLeader(t, mr, ticker, 1)

	res, err := mr.Write(1, []byte(`{"op":"put","key":"foo","value":"YmFy"}`), nil, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	require.Eventually(t, func() bool {
		v, ok := kv.Get(1, "foo")
		return ok && string(v) == "bar"
	}, time.Second, time.Millisecond)
}

func TestMultiRaftWriteAsyncResolvesUnknownGroupBeforeDeadline(t *testing.T) {
	mr, _, _ := newTestMultiRaft(t)

	// No group created: the actor replies GroupNotExist immediately, but the
	// async form must still resolve promptly rather than ever needing the
	// ctx deadline — this exercises the happy path of the ctx-bounded form.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := mr.WriteAsync(ctx, 99, []byte("x"), nil, 0)
	require.NoError(t, err)
	require.Error(t, res.Err)
}

func TestMultiRaftWriteNonBlockingReturnsChannelImmediately(t *testing.T) {
	mr, _, _ := newTestMultiRaft(t)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	require.NoError(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))

	ch, err := mr.WriteNonBlocking(1, []byte(`{"op":"put","key":"a","value":"YQ=="}`), nil, 0)
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.Error(t, res.Err) // not leader yet: no campaign was run
	case <-time.After(time.Second):
		t.Fatal("channel never resolved")
	}
}

func TestMultiRaftReadIndexRoundTrip(t *testing.T) {
	mr, _, ticker := newTestMultiRaft(t)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	require.NoError(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))
	require.NoError(t, mr.Campaign(1))
	tickUntilLeader(t, mr, ticker, 1)

	res, err := mr.ReadIndex(1, []byte("ctx"))
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, []byte("ctx"), res.Context)
}

func TestMultiRaftCreateGroupRejectsDuplicate(t *testing.T) {
	mr, _, _ := newTestMultiRaft(t)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	require.NoError(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))
	require.Error(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))
}

func TestMultiRaftRemoveGroupThenQueryFails(t *testing.T) {
	mr, _, _ := newTestMultiRaft(t)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	require.NoError(t, mr.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas))
	require.NoError(t, mr.RemoveGroup(1))

	_, err := mr.Query(1)
	require.Error(t, err)
}
