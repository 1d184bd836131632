// Package raftstorage implements the per-group log storage and multi-group
// registry described in spec section 4.1: a per-group reader/writer pair
// satisfying go.etcd.io/raft/v3's Storage contract, and a registry mapping
// (group, replica) to storage and (group, node) to replica descriptor.
package raftstorage

import (
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

// GroupStorage is the per-group log storage contract: the standard raft
// reader plus the writer operations the node actor drives during
// handle_write. Append panics if entries overlap compacted data or leave a
// gap — a programming error in the caller, not a runtime condition, mirroring
// the teacher corpus's raft storage implementations.
type GroupStorage interface {
	raft.Storage

	Append(entries []raftpb.Entry) error
	SetHardState(st raftpb.HardState) error
	SetConfState(cs raftpb.ConfState) error
	InstallSnapshot(snap raftpb.Snapshot) error
}

// Registry is the multi-group storage adapter: it creates/looks up
// per-group storage and tracks replica descriptors across groups.
type Registry interface {
	// GroupStorage returns the storage for an existing group, or
	// errs.GroupNotExist if none was ever created.
	GroupStorage(groupID uint64) (GroupStorage, error)

	// CreateGroupStorage creates storage for a new group, seeding its conf
	// state from the initial voter set. Returns errs.GroupExists if the
	// group already has storage.
	CreateGroupStorage(groupID uint64, confState raftpb.ConfState) (GroupStorage, error)

	// RemoveGroupStorage deletes a group's storage entirely.
	RemoveGroupStorage(groupID uint64) error

	// Groups lists every group id with storage, used to rediscover groups
	// on restart (spec section 6, "Persisted layout").
	Groups() []uint64

	GetReplicaDesc(groupID, replicaID uint64) (ReplicaDesc, bool)
	SetReplicaDesc(groupID uint64, desc ReplicaDesc) error
	RemoveReplicaDesc(groupID, replicaID uint64) error
	ReplicaForNode(groupID, nodeID uint64) (uint64, bool)
}

// ReplicaDesc is the persisted form of a replica descriptor (group_id is
// implied by the registry key it's stored under).
type ReplicaDesc struct {
	ReplicaID uint64
	NodeID    uint64
}
