package node

import (
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/group"
	"github.com/cuemby/multiraft/pkg/metrics"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/wire"
)

// run is the node actor's single goroutine. It owns every map on Node and
// never shares them with another goroutine, so none of this file takes a
// lock (spec section 4.7's "no mutex required across these state stores").
func (n *Node) run(tickCh <-chan struct{}) {
	defer close(n.doneCh)
	for {
		select {
		case <-n.stopCh:
			return
		case <-tickCh:
			n.onTick()
		case msg := <-n.raftMessageCh:
			n.onRaftMessage(msg)
		case req := <-n.createGroupCh:
			n.onCreateGroup(req)
		case req := <-n.loadGroupCh:
			n.onLoadGroup(req)
		case req := <-n.removeGroupCh:
			n.onRemoveGroup(req)
		case req := <-n.proposeWriteCh:
			n.onProposeWrite(req)
		case req := <-n.proposeMembershipCh:
			n.onProposeMembership(req)
		case req := <-n.proposeReadIndexCh:
			n.onProposeReadIndex(req)
		case req := <-n.campaignCh:
			n.onCampaign(req)
		case req := <-n.queryCh:
			n.onQuery(req)
		case req := <-n.statsCh:
			n.onStats(req)
		}
		n.driveActivitySet()
	}
}

func (n *Node) onTick() {
	for _, h := range n.groups {
		h.Tick()
		n.activity[h.GroupID] = true
	}
	n.hbCounter++
	if n.hbCounter >= n.cfg.GroupConfig.HeartbeatTick {
		n.hbCounter = 0
		n.sendCoalescedHeartbeats()
	}
}

func (n *Node) onRaftMessage(msg wire.RaftMessage) {
	if msg.GroupID == 0 {
		n.onCoalescedHeartbeat(msg)
		return
	}
	h, ok := n.groups[msg.GroupID]
	if !ok {
		// Unknown group: dropped. Unlike a client-facing propose, a bare
		// inbound Raft message carries no replica/conf-state information
		// to bootstrap a handle from, so implicit creation is not
		// attempted here (see DESIGN.md).
		return
	}
	if err := h.Step(msg.Message); err != nil {
		n.logger.Debug().Uint64("group_id", msg.GroupID).Err(err).Msg("step rejected")
		return
	}
	n.activity[msg.GroupID] = true
}

func (n *Node) onCreateGroup(req *CreateGroupRequest) {
	if _, ok := n.groups[req.GroupID]; ok {
		req.Reply(errs.GroupExists(req.GroupID))
		return
	}
	storage, err := n.registry.CreateGroupStorage(req.GroupID, req.ConfState)
	if err != nil {
		req.Reply(err)
		return
	}
	h, err := group.New(n.cfg.GroupConfig, req.GroupID, req.ReplicaID, n.id, storage, n.cache, n.sm, n.broker)
	if err != nil {
		req.Reply(err)
		return
	}

	for _, d := range req.Replicas {
		_ = n.cache.CacheReplicaDesc(d, true)
		if d.NodeID != 0 && d.NodeID != n.id {
			h.Peers[d.NodeID] = true
			n.addPeerGroup(d.NodeID, req.GroupID)
		}
	}

	n.groups[req.GroupID] = h
	n.activity[req.GroupID] = true
	n.broker.Publish(&events.Event{Type: events.EventGroupCreated, GroupID: req.GroupID, ReplicaID: req.ReplicaID})
	req.Reply(nil)
}

// onLoadGroup rehydrates a group handle over storage a prior process
// instance already created, instead of creating fresh storage. Replicas
// re-seeds the cache and peer fan-out set the same way onCreateGroup does,
// since the in-memory peerGroups map does not itself survive a restart.
func (n *Node) onLoadGroup(req *LoadGroupRequest) {
	if _, ok := n.groups[req.GroupID]; ok {
		req.Reply(errs.GroupExists(req.GroupID))
		return
	}
	storage, err := n.registry.GroupStorage(req.GroupID)
	if err != nil {
		req.Reply(err)
		return
	}
	h, err := group.New(n.cfg.GroupConfig, req.GroupID, req.ReplicaID, n.id, storage, n.cache, n.sm, n.broker)
	if err != nil {
		req.Reply(err)
		return
	}

	for _, d := range req.Replicas {
		_ = n.cache.CacheReplicaDesc(d, true)
		if d.NodeID != 0 && d.NodeID != n.id {
			h.Peers[d.NodeID] = true
			n.addPeerGroup(d.NodeID, req.GroupID)
		}
	}

	n.groups[req.GroupID] = h
	n.activity[req.GroupID] = true
	n.broker.Publish(&events.Event{Type: events.EventGroupCreated, GroupID: req.GroupID, ReplicaID: req.ReplicaID})
	req.Reply(nil)
}

func (n *Node) onRemoveGroup(req *RemoveGroupRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		req.Reply(errs.GroupNotExist(req.GroupID))
		return
	}
	h.Remove()
	delete(n.groups, req.GroupID)
	delete(n.activity, req.GroupID)
	delete(n.inert, req.GroupID)
	n.removePeerGroup(req.GroupID)
	_ = n.registry.RemoveGroupStorage(req.GroupID)
	n.broker.Publish(&events.Event{Type: events.EventGroupRemoved, GroupID: req.GroupID})
	req.Reply(nil)
}

func (n *Node) onProposeWrite(req *ProposeWriteRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		if req.Reply != nil {
			req.Reply(nil, errs.GroupNotExist(req.GroupID))
		}
		return
	}
	if err := h.ProposeWrite(req.Data, req.Context, req.ExpectedTerm, req.Reply); err != nil {
		if req.Reply != nil {
			req.Reply(nil, err)
		}
		return
	}
	n.activity[req.GroupID] = true
}

func (n *Node) onProposeMembership(req *ProposeMembershipRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		if req.Reply != nil {
			req.Reply(nil, errs.GroupNotExist(req.GroupID))
		}
		return
	}
	if err := h.ProposeMembership(req.Change, req.Reply); err != nil {
		if req.Reply != nil {
			req.Reply(nil, err)
		}
		return
	}
	n.activity[req.GroupID] = true
}

func (n *Node) onProposeReadIndex(req *ProposeReadIndexRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		if req.Reply != nil {
			req.Reply(nil, errs.GroupNotExist(req.GroupID))
		}
		return
	}
	if err := h.ProposeReadIndex(uuid.New(), req.Context, req.Reply); err != nil {
		if req.Reply != nil {
			req.Reply(nil, err)
		}
		return
	}
	n.activity[req.GroupID] = true
}

func (n *Node) onCampaign(req *CampaignRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		req.Reply(errs.GroupNotExist(req.GroupID))
		return
	}
	if err := h.Campaign(); err != nil {
		req.Reply(err)
		return
	}
	n.activity[req.GroupID] = true
	req.Reply(nil)
}

func (n *Node) onQuery(req *QueryRequest) {
	h, ok := n.groups[req.GroupID]
	if !ok {
		req.Reply(GroupStatus{}, errs.GroupNotExist(req.GroupID))
		return
	}
	req.Reply(GroupStatus{
		GroupID:          h.GroupID,
		ReplicaID:        h.ReplicaID,
		IsLeader:         h.IsLeader(),
		Term:             h.Term(),
		CommitIndex:      h.CommitIndex(),
		AppliedIndex:     h.AppliedIndex(),
		ProposalQueueLen: h.ProposalQueueLen(),
	}, nil)
}

func (n *Node) onStats(req *statsRequest) {
	groups := make([]metrics.GroupSnapshot, 0, len(n.groups))
	for _, h := range n.groups {
		groups = append(groups, metrics.GroupSnapshot{
			GroupID:       h.GroupID,
			IsLeader:      h.IsLeader(),
			CommitIndex:   h.CommitIndex(),
			AppliedIndex:  h.AppliedIndex(),
			ProposalQueue: h.ProposalQueueLen(),
		})
	}
	req.reply <- statsSnapshot{groups: groups, peers: len(n.peerGroups)}
}

// driveActivitySet implements spec section 4.7's per-iteration sweep:
// every group that may have new work gets its ready cycle driven to
// quiescence before the loop returns to select.
func (n *Node) driveActivitySet() {
	for groupID := range n.activity {
		delete(n.activity, groupID)
		if n.inert[groupID] {
			continue
		}
		h, ok := n.groups[groupID]
		if !ok {
			continue
		}
		for h.HasReady() {
			if !n.driveReadyCycle(h) {
				break
			}
		}
	}
}

// driveReadyCycle runs one handle_ready -> handle_write -> handle_light_ready
// cycle. Returns false if a fatal storage error suppressed further cycles
// for this group (spec section 7's propagation policy).
func (n *Node) driveReadyCycle(h *group.Handle) bool {
	groupLabel := strconv.FormatUint(h.GroupID, 10)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReadyCycleDuration)
	metrics.ReadyCyclesTotal.WithLabelValues(groupLabel).Inc()

	wr, evs, err := h.HandleReady()
	if err != nil {
		n.logger.Error().Uint64("group_id", h.GroupID).Err(err).Msg("handle_ready failed")
		return false
	}
	for _, e := range evs {
		n.broker.Publish(&e)
		if e.Type == events.EventLeaderElection {
			metrics.LeaderElectionsTotal.WithLabelValues(groupLabel).Inc()
		}
	}

	if err := h.HandleWrite(wr, n.transport.Send); err != nil {
		if isFatalStorageErr(err) {
			n.inert[h.GroupID] = true
			n.logger.Error().Uint64("group_id", h.GroupID).Err(err).Msg("fatal storage error, group now inert")
		} else {
			n.logger.Warn().Uint64("group_id", h.GroupID).Err(err).Msg("transient storage error, retrying next cycle")
		}
		return false
	}

	if err := h.HandleLightReady(wr, func(state statemachine.GroupState, applies []statemachine.Apply) error {
		metrics.ApplyBatchSize.Observe(float64(len(applies)))
		return n.sm.Apply(state, applies)
	}); err != nil {
		n.logger.Error().Uint64("group_id", h.GroupID).Err(err).Msg("apply failed")
		return false
	}
	h.ResolveReads()
	return true
}

func isFatalStorageErr(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case errs.KindStorageCompacted, errs.KindStorageUnavailable,
		errs.KindStorageLogTemporarilyUnavailable, errs.KindStorageSnapshotOutOfDate,
		errs.KindStorageSnapshotTemporarilyUnavailable:
		return false
	default:
		return true
	}
}
