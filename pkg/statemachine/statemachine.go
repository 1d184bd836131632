// Package statemachine defines the application state-machine contract
// (spec section 4.4) and a reference in-memory implementation.
package statemachine

import "go.etcd.io/raft/v3/raftpb"

// ReplyFunc is how an apply descriptor signals completion back to whoever
// is waiting on the corresponding propose call. Exactly one reply is ever
// sent per descriptor that carries one.
type ReplyFunc func(response interface{}, err error)

// ApplyKind discriminates the three descriptor shapes a group can hand to
// the state machine.
type ApplyKind int

const (
	ApplyNoOp ApplyKind = iota
	ApplyNormal
	ApplyMembership
)

// Apply is one unit of committed work handed to the state machine. Only the
// fields relevant to Kind are populated.
type Apply struct {
	Kind  ApplyKind
	Index uint64
	Term  uint64

	// ApplyNormal
	Data    []byte
	Context []byte

	// ApplyMembership
	ConfState     raftpb.ConfState
	ChangeRequest []byte

	Reply ReplyFunc
}

// GroupState is the minimal per-group context the state machine needs at
// apply time: which group/replica it is applying on behalf of, and the
// watermark the apply call is advancing to.
type GroupState struct {
	GroupID      uint64
	ReplicaID    uint64
	CommitIndex  uint64
	CommitTerm   uint64
}

// StateMachine applies committed entries in index order. apply returns once
// every descriptor in the batch is durable and every reply has been sent;
// it is single-writer per group, but concurrent apply across different
// groups is permitted.
type StateMachine interface {
	Apply(state GroupState, applies []Apply) error
}
