package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/tick"
	"github.com/cuemby/multiraft/pkg/transport"
	"github.com/cuemby/multiraft/pkg/wire"
)

type harness struct {
	node   *Node
	kv     *statemachine.KVStore
	ticker *tick.Manual
	broker *events.Broker
}

func newHarness(t *testing.T, nodeID uint64, tr transport.Transport) *harness {
	t.Helper()
	reg := raftstorage.NewMemoryRegistry()
	cache := replicacache.New(reg)
	kv := statemachine.NewKVStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	manualTicker := tick.NewManual()
	n := New(DefaultConfig(nodeID), reg, cache, kv, tr, broker, manualTicker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)

	return &harness{node: n, kv: kv, ticker: manualTicker, broker: broker}
}

// tickUntilLeader drives the manual ticker on h until its group becomes
// leader, or fails the test after enough ticks that it never would.
func tickUntilLeader(t *testing.T, h *harness, groupID uint64) {
	t.Helper()
	for i := 0; i < 50; i++ {
		resultCh, err := h.node.Query(groupID)
		require.NoError(t, err)
		res := <-resultCh
		if res.Err == nil && res.Status.IsLeader {
			return
		}
		h.ticker.Tick()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("group never became leader")
}

func TestNodeSingleGroupCreateCampaignWrite(t *testing.T) {
	tr := transport.NewLocal()
	h := newHarness(t, 1, tr)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	createCh, err := h.node.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas)
	require.NoError(t, err)
	require.NoError(t, <-createCh)

	campaignCh, err := h.node.Campaign(1)
	require.NoError(t, err)
	require.NoError(t, <-campaignCh)

	tickUntilLeader(t, h, 1)

	cmd := []byte(`{"op":"put","key":"foo","value":"YmFy"}`)
	writeCh, err := h.node.ProposeWrite(1, cmd, nil, 0)
	require.NoError(t, err)

	select {
	case res := <-writeCh:
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("write never resolved")
	}

	require.Eventually(t, func() bool {
		v, ok := h.kv.Get(1, "foo")
		return ok && string(v) == "bar"
	}, time.Second, time.Millisecond)
}

func TestNodeProposeWriteUnknownGroupReturnsNotExist(t *testing.T) {
	tr := transport.NewLocal()
	h := newHarness(t, 1, tr)

	writeCh, err := h.node.ProposeWrite(99, []byte("x"), nil, 0)
	require.NoError(t, err)
	res := <-writeCh
	require.Error(t, res.Err)
}

func TestNodeQueryUnknownGroupReturnsNotExist(t *testing.T) {
	tr := transport.NewLocal()
	h := newHarness(t, 1, tr)

	queryCh, err := h.node.Query(99)
	require.NoError(t, err)
	res := <-queryCh
	require.Error(t, res.Err)
}

func TestNodeCreateGroupRejectsDuplicate(t *testing.T) {
	tr := transport.NewLocal()
	h := newHarness(t, 1, tr)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	createCh, err := h.node.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas)
	require.NoError(t, err)
	require.NoError(t, <-createCh)

	createCh2, err := h.node.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas)
	require.NoError(t, err)
	require.Error(t, <-createCh2)
}

func TestNodeRemoveGroupThenQueryFails(t *testing.T) {
	tr := transport.NewLocal()
	h := newHarness(t, 1, tr)

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}
	createCh, err := h.node.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas)
	require.NoError(t, err)
	require.NoError(t, <-createCh)

	removeCh, err := h.node.RemoveGroup(1)
	require.NoError(t, err)
	require.NoError(t, <-removeCh)

	queryCh, err := h.node.Query(1)
	require.NoError(t, err)
	res := <-queryCh
	require.Error(t, res.Err)
}

// TestNodeThreeNodeClusterReplicatesWrite builds a three-node cluster over a
// shared transport.Local, elects node 1 leader, proposes a write there, and
// asserts the committed value eventually applies on every replica.
func TestNodeThreeNodeClusterReplicatesWrite(t *testing.T) {
	tr := transport.NewLocal()
	h1 := newHarness(t, 1, tr)
	h2 := newHarness(t, 2, tr)
	h3 := newHarness(t, 3, tr)

	confState := raftpb.ConfState{Voters: []uint64{1, 2, 3}}
	replicas := []wire.ReplicaDescriptor{
		{GroupID: 1, ReplicaID: 1, NodeID: 1},
		{GroupID: 1, ReplicaID: 2, NodeID: 2},
		{GroupID: 1, ReplicaID: 3, NodeID: 3},
	}

	for _, h := range []*harness{h1, h2, h3} {
		createCh, err := h.node.CreateGroup(1, replicaIDFor(h, replicas), confState, replicas)
		require.NoError(t, err)
		require.NoError(t, <-createCh)
	}

	campaignCh, err := h1.node.Campaign(1)
	require.NoError(t, err)
	require.NoError(t, <-campaignCh)

	// Drive every node's ticker so followers' elections don't race the
	// leader's heartbeats, and so message steps actually get processed.
	for i := 0; i < 50; i++ {
		resultCh, err := h1.node.Query(1)
		require.NoError(t, err)
		res := <-resultCh
		if res.Err == nil && res.Status.IsLeader {
			break
		}
		h1.ticker.Tick()
		h2.ticker.Tick()
		h3.ticker.Tick()
		time.Sleep(2 * time.Millisecond)
	}

	cmd := []byte(`{"op":"put","key":"foo","value":"YmFy"}`)
	writeCh, err := h1.node.ProposeWrite(1, cmd, nil, 0)
	require.NoError(t, err)
	select {
	case res := <-writeCh:
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("write never resolved")
	}

	for _, h := range []*harness{h1, h2, h3} {
		require.Eventually(t, func() bool {
			h1.ticker.Tick()
			h2.ticker.Tick()
			h3.ticker.Tick()
			v, ok := h.kv.Get(1, "foo")
			return ok && string(v) == "bar"
		}, 2*time.Second, 5*time.Millisecond)
	}
}

// TestNodeLoadGroupRehydratesOverExistingStorage simulates a process
// restart: a second node actor opens the same registry a first actor
// already created a group's storage in, and LoadGroup (not CreateGroup)
// must succeed without recreating storage.
func TestNodeLoadGroupRehydratesOverExistingStorage(t *testing.T) {
	reg := raftstorage.NewMemoryRegistry()
	cache := replicacache.New(reg)
	kv := statemachine.NewKVStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	tr := transport.NewLocal()

	replicas := []wire.ReplicaDescriptor{{GroupID: 1, ReplicaID: 1, NodeID: 1}}

	manualTicker1 := tick.NewManual()
	n1 := New(DefaultConfig(1), reg, cache, kv, tr, broker, manualTicker1)
	ctx1, cancel1 := context.WithCancel(context.Background())
	require.NoError(t, n1.Start(ctx1))

	createCh, err := n1.CreateGroup(1, 1, raftpb.ConfState{Voters: []uint64{1}}, replicas)
	require.NoError(t, err)
	require.NoError(t, <-createCh)

	n1.Stop()
	cancel1()
	// Stop leaves the transport registration in place (the caller owns the
	// transport), so free node id 1 before the second actor registers it.
	require.NoError(t, tr.RemoveServer(1))

	manualTicker2 := tick.NewManual()
	n2 := New(DefaultConfig(1), reg, cache, kv, tr, broker, manualTicker2)
	ctx2, cancel2 := context.WithCancel(context.Background())
	t.Cleanup(cancel2)
	require.NoError(t, n2.Start(ctx2))
	t.Cleanup(n2.Stop)

	loadCh, err := n2.LoadGroup(1, 1, replicas)
	require.NoError(t, err)
	require.NoError(t, <-loadCh)

	queryCh, err := n2.Query(1)
	require.NoError(t, err)
	res := <-queryCh
	require.NoError(t, res.Err)
	require.Equal(t, uint64(1), res.Status.GroupID)
}

func replicaIDFor(h *harness, replicas []wire.ReplicaDescriptor) uint64 {
	for _, d := range replicas {
		if d.NodeID == h.node.NodeID() {
			return d.ReplicaID
		}
	}
	return 0
}
