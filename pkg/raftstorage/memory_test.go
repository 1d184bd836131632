package raftstorage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
)

func TestMemoryRegistryCreateAndLookup(t *testing.T) {
	r := NewMemoryRegistry()

	_, err := r.GroupStorage(1)
	require.ErrorIs(t, err, errs.GroupNotExist(1))

	confState := raftpb.ConfState{Voters: []uint64{1, 2, 3}}
	gs, err := r.CreateGroupStorage(1, confState)
	require.NoError(t, err)
	require.NotNil(t, gs)

	_, err = r.CreateGroupStorage(1, confState)
	require.ErrorIs(t, err, errs.GroupExists(1))

	got, err := r.GroupStorage(1)
	require.NoError(t, err)
	require.Same(t, gs, got)

	require.Equal(t, []uint64{1}, r.Groups())
}

func TestMemoryRegistryReplicaDesc(t *testing.T) {
	r := NewMemoryRegistry()
	confState := raftpb.ConfState{Voters: []uint64{1}}
	_, err := r.CreateGroupStorage(1, confState)
	require.NoError(t, err)

	_, ok := r.GetReplicaDesc(1, 1)
	require.False(t, ok)

	require.NoError(t, r.SetReplicaDesc(1, ReplicaDesc{ReplicaID: 1, NodeID: 10}))
	desc, ok := r.GetReplicaDesc(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(10), desc.NodeID)

	replicaID, ok := r.ReplicaForNode(1, 10)
	require.True(t, ok)
	require.Equal(t, uint64(1), replicaID)

	require.NoError(t, r.RemoveReplicaDesc(1, 1))
	_, ok = r.GetReplicaDesc(1, 1)
	require.False(t, ok)
	_, ok = r.ReplicaForNode(1, 10)
	require.False(t, ok)
}

func TestMemoryGroupStorageAppendAndRead(t *testing.T) {
	r := NewMemoryRegistry()
	gs, err := r.CreateGroupStorage(1, raftpb.ConfState{Voters: []uint64{1}})
	require.NoError(t, err)

	entries := []raftpb.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}
	require.NoError(t, gs.Append(entries))

	last, err := gs.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	got, err := gs.Entries(1, 3, 1<<20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("a"), got[0].Data)
}
