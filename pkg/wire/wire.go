// Package wire defines the envelopes exchanged between node actors over the
// transport (pkg/transport) and the conf-change payload carried inside a
// committed membership entry.
package wire

import (
	"go.etcd.io/raft/v3/raftpb"
)

// ReplicaDescriptor locates one replica: which group it belongs to, its
// replica id (unique within the group), and the node that hosts it.
type ReplicaDescriptor struct {
	GroupID   uint64
	ReplicaID uint64
	NodeID    uint64
}

// IsZero reports whether the descriptor carries no information at all.
func (d ReplicaDescriptor) IsZero() bool {
	return d.GroupID == 0 && d.ReplicaID == 0 && d.NodeID == 0
}

// RaftMessage is the envelope carried over the wire between two nodes.
// GroupID == 0 designates a coalesced heartbeat (see pkg/node).
type RaftMessage struct {
	GroupID  uint64
	From     ReplicaDescriptor
	To       ReplicaDescriptor
	Message  raftpb.Message
}

// RaftMessageResponse acknowledges a RaftMessage was handed to the node
// actor for processing; it carries no payload.
type RaftMessageResponse struct{}

// ChangeType mirrors raftpb.ConfChangeType without forcing callers to import
// raftpb just to describe a membership change.
type ChangeType int32

const (
	ChangeAddNode        = ChangeType(raftpb.ConfChangeAddNode)
	ChangeRemoveNode     = ChangeType(raftpb.ConfChangeRemoveNode)
	ChangeAddLearnerNode = ChangeType(raftpb.ConfChangeAddLearnerNode)
)

// MembershipChange is one element of a MembershipChangeData request.
type MembershipChange struct {
	ChangeType ChangeType
	ReplicaID  uint64
	NodeID     uint64
}

// MembershipChangeData is serialised into a conf-change entry's context so
// that state-machine observers can recover the caller's intent; a single
// change encodes as a v1 conf change, multiple changes as a v2 joint
// consensus conf change (see pkg/group).
type MembershipChangeData struct {
	GroupID uint64
	Term    uint64
	Changes []MembershipChange
}
