package replicacache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/wire"
)

func newTestCache(t *testing.T) (*Cache, *raftstorage.MemoryRegistry) {
	reg := raftstorage.NewMemoryRegistry()
	_, err := reg.CreateGroupStorage(1, raftpb.ConfState{Voters: []uint64{1}})
	require.NoError(t, err)
	return New(reg), reg
}

func TestCacheMissLoadsFromStorage(t *testing.T) {
	cache, reg := newTestCache(t)

	require.NoError(t, reg.SetReplicaDesc(1, raftstorage.ReplicaDesc{ReplicaID: 1, NodeID: 10}))

	desc, ok := cache.ReplicaDesc(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(10), desc.NodeID)

	replicaID, ok := cache.ReplicaForNode(1, 10)
	require.True(t, ok)
	require.Equal(t, uint64(1), replicaID)
}

func TestCacheWriteThroughPersistsBeforeCache(t *testing.T) {
	cache, reg := newTestCache(t)

	desc := wire.ReplicaDescriptor{GroupID: 1, ReplicaID: 2, NodeID: 20}
	require.NoError(t, cache.CacheReplicaDesc(desc, true))

	stored, ok := reg.GetReplicaDesc(1, 2)
	require.True(t, ok)
	require.Equal(t, uint64(20), stored.NodeID)

	got, ok := cache.ReplicaDesc(1, 2)
	require.True(t, ok)
	require.Equal(t, desc, got)
}

func TestRepairRuleFabricatesMissingDescriptor(t *testing.T) {
	cache, reg := newTestCache(t)

	_, ok := reg.GetReplicaDesc(1, 1)
	require.False(t, ok)

	desc := cache.Repair(1, 100, 1)
	require.Equal(t, wire.ReplicaDescriptor{GroupID: 1, ReplicaID: 1, NodeID: 100}, desc)

	stored, ok := reg.GetReplicaDesc(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(100), stored.NodeID)
}
