// Package multiraft is the client façade described in spec section 6: the
// single entry point applications use to create/remove groups and to
// propose writes, membership changes, read-indexes, and campaigns, each in
// three call flavours.
//
// Grounded on oceanraft::MultiRaft's write/write_block/write_non_block
// trio (referenced from SPEC_FULL.md section 4.7): every operation below
// except LoadGroup and Query (blocking only) has a blocking form that awaits the node actor's reply with no deadline,
// an async form that awaits it against a caller-supplied context deadline,
// and a non-blocking form that hands back the raw reply channel.
package multiraft

import (
	"context"

	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/node"
	"github.com/cuemby/multiraft/pkg/wire"
)

// MultiRaft wraps a started node actor behind the façade's three-flavour
// call shapes. The zero value is not usable; construct with New.
type MultiRaft struct {
	n *node.Node
}

// New starts a node actor on the given components and returns a façade over
// it. Callers own the components' lifetimes (storage, transport, etc.);
// Stop only stops the actor loop.
func New(ctx context.Context, n *node.Node) (*MultiRaft, error) {
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	return &MultiRaft{n: n}, nil
}

// Stop halts the underlying node actor and waits for its loop to exit.
func (m *MultiRaft) Stop() { m.n.Stop() }

// Node exposes the underlying actor, for wiring into metrics.Collector or
// for direct access to Query/GroupSnapshots where no flavoured form is
// needed.
func (m *MultiRaft) Node() *node.Node { return m.n }

// await blocks on ch with no deadline, the shape oceanraft's write_block
// uses — the caller has already decided to wait as long as it takes.
func await[T any](ch <-chan T, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	return <-ch, nil
}

// awaitCtx blocks on ch until it resolves or ctx is done, surfacing
// errs.Timeout on the latter.
func awaitCtx[T any](ctx context.Context, ch <-chan T, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, errs.Timeout()
	}
}

// CreateGroup (blocking) creates a new group and waits for the result.
func (m *MultiRaft) CreateGroup(groupID, replicaID uint64, confState raftpb.ConfState, replicas []wire.ReplicaDescriptor) error {
	ch, err := m.n.CreateGroup(groupID, replicaID, confState, replicas)
	result, err := await(ch, err)
	return errOrResult(result, err)
}

// CreateGroupAsync (async) creates a new group, bounded by ctx.
func (m *MultiRaft) CreateGroupAsync(ctx context.Context, groupID, replicaID uint64, confState raftpb.ConfState, replicas []wire.ReplicaDescriptor) error {
	ch, err := m.n.CreateGroup(groupID, replicaID, confState, replicas)
	result, err := awaitCtx(ctx, ch, err)
	return errOrResult(result, err)
}

// CreateGroupNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) CreateGroupNonBlocking(groupID, replicaID uint64, confState raftpb.ConfState, replicas []wire.ReplicaDescriptor) (<-chan error, error) {
	return m.n.CreateGroup(groupID, replicaID, confState, replicas)
}

// LoadGroup (blocking) rehydrates a group over storage a previous process
// instance already created, as part of restart rediscovery.
func (m *MultiRaft) LoadGroup(groupID, replicaID uint64, replicas []wire.ReplicaDescriptor) error {
	ch, err := m.n.LoadGroup(groupID, replicaID, replicas)
	result, err := await(ch, err)
	return errOrResult(result, err)
}

// RemoveGroup (blocking) drains and removes a group.
func (m *MultiRaft) RemoveGroup(groupID uint64) error {
	ch, err := m.n.RemoveGroup(groupID)
	result, err := await(ch, err)
	return errOrResult(result, err)
}

// RemoveGroupAsync (async) removes a group, bounded by ctx.
func (m *MultiRaft) RemoveGroupAsync(ctx context.Context, groupID uint64) error {
	ch, err := m.n.RemoveGroup(groupID)
	result, err := awaitCtx(ctx, ch, err)
	return errOrResult(result, err)
}

// RemoveGroupNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) RemoveGroupNonBlocking(groupID uint64) (<-chan error, error) {
	return m.n.RemoveGroup(groupID)
}

// Write (blocking) proposes a write and waits for it to apply or fail.
func (m *MultiRaft) Write(groupID uint64, data, proposalContext []byte, expectedTerm uint64) (node.WriteResult, error) {
	ch, err := m.n.ProposeWrite(groupID, data, proposalContext, expectedTerm)
	return await(ch, err)
}

// WriteAsync (async) proposes a write, bounded by ctx.
func (m *MultiRaft) WriteAsync(ctx context.Context, groupID uint64, data, proposalContext []byte, expectedTerm uint64) (node.WriteResult, error) {
	ch, err := m.n.ProposeWrite(groupID, data, proposalContext, expectedTerm)
	return awaitCtx(ctx, ch, err)
}

// WriteNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) WriteNonBlocking(groupID uint64, data, proposalContext []byte, expectedTerm uint64) (<-chan node.WriteResult, error) {
	return m.n.ProposeWrite(groupID, data, proposalContext, expectedTerm)
}

// Membership (blocking) proposes a membership change and waits for it.
func (m *MultiRaft) Membership(groupID uint64, change wire.MembershipChangeData) (node.WriteResult, error) {
	ch, err := m.n.ProposeMembership(groupID, change)
	return await(ch, err)
}

// MembershipAsync (async) proposes a membership change, bounded by ctx.
func (m *MultiRaft) MembershipAsync(ctx context.Context, groupID uint64, change wire.MembershipChangeData) (node.WriteResult, error) {
	ch, err := m.n.ProposeMembership(groupID, change)
	return awaitCtx(ctx, ch, err)
}

// MembershipNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) MembershipNonBlocking(groupID uint64, change wire.MembershipChangeData) (<-chan node.WriteResult, error) {
	return m.n.ProposeMembership(groupID, change)
}

// ReadIndex (blocking) resolves a linearisable read and waits for it.
func (m *MultiRaft) ReadIndex(groupID uint64, userContext []byte) (node.ReadIndexResult, error) {
	ch, err := m.n.ProposeReadIndex(groupID, userContext)
	return await(ch, err)
}

// ReadIndexAsync (async) resolves a linearisable read, bounded by ctx.
func (m *MultiRaft) ReadIndexAsync(ctx context.Context, groupID uint64, userContext []byte) (node.ReadIndexResult, error) {
	ch, err := m.n.ProposeReadIndex(groupID, userContext)
	return awaitCtx(ctx, ch, err)
}

// ReadIndexNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) ReadIndexNonBlocking(groupID uint64, userContext []byte) (<-chan node.ReadIndexResult, error) {
	return m.n.ProposeReadIndex(groupID, userContext)
}

// Campaign (blocking) starts a leader election and waits for it to be
// accepted by the wrapped raft instance (not for the election to finish).
func (m *MultiRaft) Campaign(groupID uint64) error {
	ch, err := m.n.Campaign(groupID)
	result, err := await(ch, err)
	return errOrResult(result, err)
}

// CampaignAsync (async) starts a leader election, bounded by ctx.
func (m *MultiRaft) CampaignAsync(ctx context.Context, groupID uint64) error {
	ch, err := m.n.Campaign(groupID)
	result, err := awaitCtx(ctx, ch, err)
	return errOrResult(result, err)
}

// CampaignNonBlocking (non-blocking) returns the raw reply channel.
func (m *MultiRaft) CampaignNonBlocking(groupID uint64) (<-chan error, error) {
	return m.n.Campaign(groupID)
}

// Query (blocking) reports one group's current status.
func (m *MultiRaft) Query(groupID uint64) (node.GroupStatus, error) {
	ch, err := m.n.Query(groupID)
	res, err := await(ch, err)
	return res.Status, errOrResult(res.Err, err)
}

func errOrResult(resultErr, sendErr error) error {
	if sendErr != nil {
		return sendErr
	}
	return resultErr
}
