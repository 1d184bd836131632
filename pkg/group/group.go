// Package group implements the group handle of spec section 4.6: a wrapper
// around one single-group go.etcd.io/raft/v3 instance that proposes,
// steps, and drives the ready cycle, binding in-flight client proposals to
// the log indices raft only reveals after the fact.
//
// Grounded on oceanraft/src/multiraft/group.rs; the ready/write/light-ready
// split onto stock raft.RawNode's single Ready()/Advance() cycle is
// documented in SPEC_FULL.md section 4.2 and DESIGN.md.
package group

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/proposal"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/wire"
)

// Config holds the per-group raft tuning parameters the node actor passes
// down at group-creation time.
type Config struct {
	ElectionTick    int
	HeartbeatTick   int
	MaxSizePerMsg   uint64
	MaxInflightMsgs int
}

// DefaultConfig mirrors common etcd/raft deployments (ElectionTick ten
// times HeartbeatTick, as junxie6-dgraph/conn/node.go configures it).
func DefaultConfig() Config {
	return Config{
		ElectionTick:    10,
		HeartbeatTick:   1,
		MaxSizePerMsg:   1024 * 1024,
		MaxInflightMsgs: 256,
	}
}

// Status is a group handle's lifecycle state.
type Status int

const (
	StatusActive Status = iota
	StatusDeleted
)

// WriteRequest carries the work handle_ready produced for handle_write and
// handle_light_ready to consume: what to persist, what to send, and the
// apply batch already built from committed entries.
type WriteRequest struct {
	GroupID    uint64
	Snapshot   raftpb.Snapshot
	Entries    []raftpb.Entry
	HardState  raftpb.HardState
	rawMessages []raftpb.Message
	rd         raft.Ready
	ApplyBatch *proposal.Batch
}

// Handle is the per-group state: the wrapped raft instance, the peer set
// tracked for heartbeat fan-out, the proposal and read-index queues, and
// the cached leader descriptor.
type Handle struct {
	GroupID   uint64
	ReplicaID uint64
	nodeID    uint64

	raftGroup *raft.RawNode
	storage   raftstorage.GroupStorage
	cache     *replicacache.Cache
	sm        statemachine.StateMachine
	broker    *events.Broker
	logger    zerolog.Logger

	cfg Config

	Peers map[uint64]bool // peer node ids tracked for heartbeat fan-out

	proposals     *proposal.Queue
	reads         *proposal.ReadIndexQueue
	leaderReplica uint64
	leaderNode    uint64
	committedTerm uint64
	status        Status
}

// New constructs a group handle and its underlying raft.RawNode.
func New(cfg Config, groupID, replicaID, nodeID uint64, storage raftstorage.GroupStorage, cache *replicacache.Cache, sm statemachine.StateMachine, broker *events.Broker) (*Handle, error) {
	raftCfg := &raft.Config{
		ID:              replicaID,
		ElectionTick:    cfg.ElectionTick,
		HeartbeatTick:   cfg.HeartbeatTick,
		Storage:         storage,
		MaxSizePerMsg:   cfg.MaxSizePerMsg,
		MaxInflightMsgs: cfg.MaxInflightMsgs,
		PreVote:         true,
		CheckQuorum:     true,
	}

	rn, err := raft.NewRawNode(raftCfg)
	if err != nil {
		return nil, errs.Raft(err)
	}

	return &Handle{
		GroupID:   groupID,
		ReplicaID: replicaID,
		nodeID:    nodeID,
		raftGroup: rn,
		storage:   storage,
		cache:     cache,
		sm:        sm,
		broker:    broker,
		logger:    zerolog.Nop(),
		cfg:       cfg,
		Peers:     make(map[uint64]bool),
		proposals: proposal.NewQueue(),
		reads:     proposal.NewReadIndexQueue(),
		status:    StatusActive,
	}, nil
}

// SetLogger attaches a logger carrying group/replica fields.
func (h *Handle) SetLogger(l zerolog.Logger) { h.logger = l }

// Status reports the group's lifecycle state.
func (h *Handle) Status() Status { return h.status }

// IsLeader reports whether this replica currently believes itself leader.
func (h *Handle) IsLeader() bool {
	return h.raftGroup.Status().RaftState == raft.StateLeader
}

// Term returns the group's current raft term.
func (h *Handle) Term() uint64 {
	return h.raftGroup.Status().Term
}

// AppliedIndex returns the raft library's applied watermark.
func (h *Handle) AppliedIndex() uint64 {
	return h.raftGroup.Status().Applied
}

// selfMatch returns this replica's own match index from the leader's
// progress tracker. Unlike h.storage.LastIndex(), which only advances once
// handle_write flushes entries to stable storage a cycle later, the
// tracker's Match for the local id advances synchronously inside
// RawNode.Propose/ProposeConfChange (raft's appendEntry updates the
// leader's own progress as part of the same call), so reading it before
// and after a propose call observes the log index it was just assigned.
func (h *Handle) selfMatch() uint64 {
	return h.raftGroup.Status().Progress[h.ReplicaID].Match
}

// ProposalQueueLen reports the number of in-flight proposals, for metrics.
func (h *Handle) ProposalQueueLen() int { return h.proposals.Len() }

// Campaign asks the wrapped raft instance to start a leader election.
func (h *Handle) Campaign() error {
	if err := h.raftGroup.Campaign(); err != nil {
		return errs.Raft(err)
	}
	return nil
}

// Tick advances the group's internal logical clock by one tick.
func (h *Handle) Tick() { h.raftGroup.Tick() }

// HasReady reports whether the group has work for handle_ready to consume.
func (h *Handle) HasReady() bool { return h.raftGroup.HasReady() }

// Step hands an inbound raft message to the wrapped instance. Safe whether
// or not the group is leader, and safe for a heartbeat regardless of role,
// per the raft library boundary contract.
func (h *Handle) Step(msg raftpb.Message) error {
	if err := h.raftGroup.Step(msg); err != nil {
		return errs.Raft(err)
	}
	return nil
}

// ProposeWrite implements spec section 4.6's propose_write.
func (h *Handle) ProposeWrite(data, context []byte, expectedTerm uint64, reply statemachine.ReplyFunc) error {
	if h.status != StatusActive {
		return errs.GroupDeleted(h.GroupID)
	}
	if !h.IsLeader() {
		return errs.NotLeader(h.nodeID, h.GroupID, h.ReplicaID)
	}
	if len(data) == 0 {
		return errs.BadParameter("propose_write: empty data")
	}
	currentTerm := h.Term()
	if expectedTerm != 0 && currentTerm > expectedTerm {
		return errs.Stale(expectedTerm, currentTerm)
	}

	before := h.selfMatch()
	if err := h.raftGroup.Propose(data); err != nil {
		return errs.Raft(err)
	}
	after := h.selfMatch()
	if after != before+1 {
		return errs.UnexpectedIndex(before+1, after)
	}

	h.proposals.Push(proposal.Record{
		Index:   after,
		Term:    currentTerm,
		Context: context,
		Reply:   reply,
	})
	return nil
}

// ProposeMembership implements spec section 4.6's propose_membership.
// Single-change requests encode as a v1 conf change; multi-change requests
// encode as a v2 joint-consensus conf change, matching oceanraft's
// propose_membership_change.
func (h *Handle) ProposeMembership(changeData wire.MembershipChangeData, reply statemachine.ReplyFunc) error {
	if h.status != StatusActive {
		return errs.GroupDeleted(h.GroupID)
	}
	if !h.IsLeader() {
		return errs.NotLeader(h.nodeID, h.GroupID, h.ReplicaID)
	}
	if len(changeData.Changes) == 0 {
		return errs.BadParameter("propose_membership: empty change set")
	}

	currentTerm := h.Term()
	context, err := json.Marshal(changeData)
	if err != nil {
		return errs.BadParameter(fmt.Sprintf("propose_membership: encode context: %v", err))
	}

	before := h.selfMatch()

	if len(changeData.Changes) == 1 {
		c := changeData.Changes[0]
		cc := raftpb.ConfChange{
			Type:    raftpb.ConfChangeType(c.ChangeType),
			NodeID:  c.ReplicaID,
			Context: context,
		}
		err = h.raftGroup.ProposeConfChange(cc)
	} else {
		changes := make([]raftpb.ConfChangeSingle, len(changeData.Changes))
		for i, c := range changeData.Changes {
			changes[i] = raftpb.ConfChangeSingle{Type: raftpb.ConfChangeType(c.ChangeType), NodeID: c.ReplicaID}
		}
		ccv2 := raftpb.ConfChangeV2{Changes: changes, Context: context}
		err = h.raftGroup.ProposeConfChange(ccv2)
	}
	if err != nil {
		return errs.Raft(err)
	}

	after := h.selfMatch()
	if after != before+1 {
		return errs.UnexpectedIndex(before+1, after)
	}

	h.proposals.Push(proposal.Record{
		Index:        after,
		Term:         currentTerm,
		IsConfChange: true,
		Context:      context,
		Reply:        reply,
	})
	return nil
}

// ProposeReadIndex implements spec section 4.6's propose_read_index. No
// leader check: followers forward to the leader via the raft library.
func (h *Handle) ProposeReadIndex(id uuid.UUID, context []byte, reply proposal.ReadIndexReply) error {
	if h.status != StatusActive {
		return errs.GroupDeleted(h.GroupID)
	}
	rctx := proposal.EncodeContext(id, context)
	if err := h.raftGroup.ReadIndex(rctx); err != nil {
		return errs.Raft(err)
	}
	h.reads.Push(proposal.ReadIndexRecord{UUID: id, Context: context, Reply: reply})
	return nil
}

// Remove marks the group Deleted and drains every pending proposal and
// read-index request with a Deleted error, per spec section 4.6's proposal
// resolution rule for group removal.
func (h *Handle) Remove() {
	h.status = StatusDeleted
	h.proposals.DrainAll(func(r proposal.Record) {
		if r.Reply != nil {
			r.Reply(nil, errs.GroupDeleted(h.GroupID))
		}
	})
	h.reads.DrainAll(func(r proposal.ReadIndexRecord) {
		if r.Reply != nil {
			r.Reply(nil, errs.GroupDeleted(h.GroupID))
		}
	})
}

// CommitIndex returns the group's Raft commit index (the watermark a
// quorum has durably replicated), used for the per-group commit-index
// metric. This is distinct from the storage's last-appended index, which
// can run ahead of quorum commitment on an in-flight write.
func (h *Handle) CommitIndex() uint64 {
	return h.raftGroup.Status().HardState.Commit
}
