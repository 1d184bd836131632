package node

import (
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/proposal"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/wire"
)

// trySend implements spec section 4.7's "channel sends between the façade
// and the actor use try-send": Full surfaces back-pressure to the caller
// instead of blocking it, and a closed stop channel surfaces
// ReceiverClosed instead of hanging forever on a dead actor.
func trySend[T any](ch chan T, v T, stopCh <-chan struct{}) error {
	select {
	case ch <- v:
		return nil
	case <-stopCh:
		return errs.ReceiverClosed()
	default:
		return errs.ChannelFull()
	}
}

// CreateGroupRequest asks the actor to construct a new group handle backed
// by freshly-created storage. Replicas lists the full replica set
// (including the local one) so the actor can seed the replica cache and
// the peer fan-out set used for coalesced heartbeats.
type CreateGroupRequest struct {
	GroupID   uint64
	ReplicaID uint64
	ConfState raftpb.ConfState
	Replicas  []wire.ReplicaDescriptor
	Reply     func(error)
}

// CreateGroup enqueues a create_group request and returns a channel that
// receives its single result. Returns a non-nil error only if the request
// itself could not be enqueued (Full or ReceiverClosed).
func (n *Node) CreateGroup(groupID, replicaID uint64, confState raftpb.ConfState, replicas []wire.ReplicaDescriptor) (<-chan error, error) {
	reply := make(chan error, 1)
	req := &CreateGroupRequest{
		GroupID:   groupID,
		ReplicaID: replicaID,
		ConfState: confState,
		Replicas:  replicas,
		Reply:     func(err error) { reply <- err },
	}
	if err := trySend(n.createGroupCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// LoadGroupRequest asks the actor to rehydrate a group handle over storage
// a previous process already created, as part of restart rediscovery.
// Replicas re-seeds the replica cache and peer fan-out set exactly as
// CreateGroup does; unlike CreateGroupRequest it carries no ConfState,
// since the persisted storage's own conf state governs on reload.
type LoadGroupRequest struct {
	GroupID   uint64
	ReplicaID uint64
	Replicas  []wire.ReplicaDescriptor
	Reply     func(error)
}

// LoadGroup enqueues a load_group request.
func (n *Node) LoadGroup(groupID, replicaID uint64, replicas []wire.ReplicaDescriptor) (<-chan error, error) {
	reply := make(chan error, 1)
	req := &LoadGroupRequest{
		GroupID:   groupID,
		ReplicaID: replicaID,
		Replicas:  replicas,
		Reply:     func(err error) { reply <- err },
	}
	if err := trySend(n.loadGroupCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// RemoveGroupRequest asks the actor to drain and remove a group.
type RemoveGroupRequest struct {
	GroupID uint64
	Reply   func(error)
}

// RemoveGroup enqueues a remove_group request.
func (n *Node) RemoveGroup(groupID uint64) (<-chan error, error) {
	reply := make(chan error, 1)
	req := &RemoveGroupRequest{GroupID: groupID, Reply: func(err error) { reply <- err }}
	if err := trySend(n.removeGroupCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// WriteResult is what a propose_write resolves with: the state machine's
// application-defined response, or an error.
type WriteResult struct {
	Response interface{}
	Err      error
}

// ProposeWriteRequest asks the actor to propose a client write on a group.
type ProposeWriteRequest struct {
	GroupID      uint64
	Data         []byte
	Context      []byte
	ExpectedTerm uint64
	Reply        statemachine.ReplyFunc
}

// ProposeWrite enqueues a propose_write request.
func (n *Node) ProposeWrite(groupID uint64, data, context []byte, expectedTerm uint64) (<-chan WriteResult, error) {
	reply := make(chan WriteResult, 1)
	req := &ProposeWriteRequest{
		GroupID:      groupID,
		Data:         data,
		Context:      context,
		ExpectedTerm: expectedTerm,
		Reply:        func(resp interface{}, err error) { reply <- WriteResult{Response: resp, Err: err} },
	}
	if err := trySend(n.proposeWriteCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// ProposeMembershipRequest asks the actor to propose a membership change.
type ProposeMembershipRequest struct {
	GroupID uint64
	Change  wire.MembershipChangeData
	Reply   statemachine.ReplyFunc
}

// ProposeMembership enqueues a propose_membership request.
func (n *Node) ProposeMembership(groupID uint64, change wire.MembershipChangeData) (<-chan WriteResult, error) {
	reply := make(chan WriteResult, 1)
	req := &ProposeMembershipRequest{
		GroupID: groupID,
		Change:  change,
		Reply:   func(resp interface{}, err error) { reply <- WriteResult{Response: resp, Err: err} },
	}
	if err := trySend(n.proposeMembershipCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// ReadIndexResult is what a propose_read_index resolves with.
type ReadIndexResult struct {
	Context []byte
	Err     error
}

// ProposeReadIndexRequest asks the actor to resolve a linearisable read.
type ProposeReadIndexRequest struct {
	GroupID uint64
	Context []byte
	Reply   proposal.ReadIndexReply
}

// ProposeReadIndex enqueues a propose_read_index request.
func (n *Node) ProposeReadIndex(groupID uint64, userContext []byte) (<-chan ReadIndexResult, error) {
	reply := make(chan ReadIndexResult, 1)
	req := &ProposeReadIndexRequest{
		GroupID: groupID,
		Context: userContext,
		Reply:   func(ctx []byte, err error) { reply <- ReadIndexResult{Context: ctx, Err: err} },
	}
	if err := trySend(n.proposeReadIndexCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// CampaignRequest asks the actor to start a leader election on a group.
type CampaignRequest struct {
	GroupID uint64
	Reply   func(error)
}

// Campaign enqueues a campaign request.
func (n *Node) Campaign(groupID uint64) (<-chan error, error) {
	reply := make(chan error, 1)
	req := &CampaignRequest{GroupID: groupID, Reply: func(err error) { reply <- err }}
	if err := trySend(n.campaignCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}

// GroupStatus answers a query about one group's current state.
type GroupStatus struct {
	GroupID          uint64
	ReplicaID        uint64
	IsLeader         bool
	Term             uint64
	CommitIndex      uint64
	AppliedIndex     uint64
	ProposalQueueLen int
}

// QueryResult is what a query resolves with.
type QueryResult struct {
	Status GroupStatus
	Err    error
}

// QueryRequest asks the actor for one group's current status.
type QueryRequest struct {
	GroupID uint64
	Reply   func(GroupStatus, error)
}

// Query enqueues a status query for one group.
func (n *Node) Query(groupID uint64) (<-chan QueryResult, error) {
	reply := make(chan QueryResult, 1)
	req := &QueryRequest{
		GroupID: groupID,
		Reply:   func(s GroupStatus, err error) { reply <- QueryResult{Status: s, Err: err} },
	}
	if err := trySend(n.queryCh, req, n.stopCh); err != nil {
		return nil, err
	}
	return reply, nil
}
