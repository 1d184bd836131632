package group

import (
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/proposal"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/wire"
)

// HandleReady implements spec section 4.6's handle_ready. It does not send
// messages itself — go.etcd.io/raft/v3's own documented contract requires
// Ready.Messages to be sent only after the entries in that same Ready are
// durably persisted, so they are carried on the returned WriteRequest and
// dispatched from HandleWrite instead (see SPEC_FULL.md section 4.2).
func (h *Handle) HandleReady() (*WriteRequest, []events.Event, error) {
	rd := h.raftGroup.Ready()

	var emitted []events.Event

	// Step 1: resolve the local replica descriptor, repairing it if storage
	// lost the record (spec section 4.5's repair rule).
	h.cache.Repair(h.GroupID, h.nodeID, h.ReplicaID)

	// Step 3: leader-change detection.
	if rd.SoftState != nil {
		if rd.SoftState.Lead != 0 && rd.SoftState.Lead != h.leaderReplica {
			h.leaderReplica = rd.SoftState.Lead
			if desc, ok := h.cache.ReplicaDesc(h.GroupID, rd.SoftState.Lead); ok {
				h.leaderNode = desc.NodeID
			} else {
				h.leaderNode = 0 // NO_NODE: unknown, non-fatal
			}
			emitted = append(emitted, events.Event{
				Type:    events.EventLeaderElection,
				GroupID: h.GroupID,
				Message: "leader elected",
			})
		}
	}

	// Step 4: record the commit index each ready read-state resolved to.
	// Actually firing the reply waits for the applied watermark to reach
	// that index (invariant 4), handled by ResolveReads after this cycle's
	// committed entries have been applied.
	for _, rs := range rd.ReadStates {
		id, _ := proposal.DecodeContext(rs.RequestCtx)
		h.reads.MarkReady(id, rs.Index)
	}

	// Before scanning committed entries for proposal matches, resolve any
	// proposal whose term has been left behind by the current term without
	// ever being matched (see DESIGN.md's resolution of the spec's Open
	// Question).
	currentTerm := h.Term()
	h.proposals.DrainStale(currentTerm, func(r proposal.Record) {
		if r.Reply != nil {
			r.Reply(nil, errs.Stale(r.Term, currentTerm))
		}
	})

	// Step 5: build the apply batch from committed entries.
	var batch *proposal.Batch
	if len(rd.CommittedEntries) > 0 {
		batch = h.buildApplyBatch(rd.CommittedEntries, currentTerm)
	}

	wr := &WriteRequest{
		GroupID:     h.GroupID,
		Snapshot:    rd.Snapshot,
		Entries:     rd.Entries,
		HardState:   rd.HardState,
		rawMessages: rd.Messages,
		rd:          rd,
		ApplyBatch:  batch,
	}
	return wr, emitted, nil
}

// HandleWrite implements spec section 4.6's handle_write: persist
// snapshot -> entries -> hard state, dispatch the deferred messages, then
// advance the raft library's log watermark.
func (h *Handle) HandleWrite(wr *WriteRequest, send func(wire.RaftMessage)) error {
	if !raftpb.IsEmptySnap(wr.Snapshot) {
		if err := h.storage.InstallSnapshot(wr.Snapshot); err != nil {
			return err
		}
	}
	if len(wr.Entries) > 0 {
		if err := h.storage.Append(wr.Entries); err != nil {
			return err
		}
	}
	if !raftpb.IsEmptyHardState(wr.HardState) {
		if err := h.storage.SetHardState(wr.HardState); err != nil {
			return err
		}
	}

	for _, msg := range wr.rawMessages {
		if msg.Type == raftpb.MsgHeartbeat || msg.Type == raftpb.MsgHeartbeatResp {
			// Per-group heartbeat traffic is superseded entirely by the
			// node actor's coalesced group_id=0 exchange (spec section 9):
			// this includes both heartbeats raft's own leader ticking would
			// send and the per-group MsgHeartbeatResp a synthetic coalesced
			// heartbeat step produces internally. Neither goes over the
			// wire per group.
			continue
		}
		desc, ok := h.cache.ReplicaDesc(h.GroupID, msg.To)
		if !ok || desc.NodeID == 0 {
			// Destination unknown: drop. Raft tolerates message loss; the
			// next successful gossip/heartbeat repopulates the cache.
			continue
		}
		from, _ := h.cache.ReplicaDesc(h.GroupID, msg.From)
		send(wire.RaftMessage{
			GroupID: h.GroupID,
			From:    wire.ReplicaDescriptor{GroupID: h.GroupID, ReplicaID: from.ReplicaID, NodeID: from.NodeID},
			To:      wire.ReplicaDescriptor{GroupID: h.GroupID, ReplicaID: msg.To, NodeID: desc.NodeID},
			Message: msg,
		})
	}

	h.raftGroup.Advance(wr.rd)
	return nil
}

// HandleLightReady implements spec section 4.6's handle_light_ready. Stock
// raft.RawNode does not produce a second batch of newly-committed entries
// after Advance the way the split advance_append/LightReady model does, so
// this is the point where the batch already built during HandleReady is
// handed off to the state machine (see SPEC_FULL.md section 4.2).
func (h *Handle) HandleLightReady(wr *WriteRequest, apply func(statemachine.GroupState, []statemachine.Apply) error) error {
	if wr.ApplyBatch == nil {
		return nil
	}
	applies := h.toApplies(wr.ApplyBatch)
	return apply(statemachine.GroupState{
		GroupID:     h.GroupID,
		ReplicaID:   h.ReplicaID,
		CommitIndex: wr.ApplyBatch.CommitIndex,
		CommitTerm:  wr.ApplyBatch.CommitTerm,
	}, applies)
}

// ResolveReads fires the reply for every read-index record whose
// committed_read_index has been reached by the replica's applied index.
// Call after HandleLightReady, so records marked ready earlier in this same
// cycle (step 4 of HandleReady) see the watermark this cycle's apply just
// advanced, per invariant 4.
func (h *Handle) ResolveReads() {
	for _, rec := range h.reads.PopApplied(h.AppliedIndex()) {
		if rec.Reply != nil {
			rec.Reply(rec.Context, nil)
		}
	}
}

func (h *Handle) buildApplyBatch(entries []raftpb.Entry, currentTerm uint64) *proposal.Batch {
	last := entries[len(entries)-1]
	commitTerm, _ := h.storage.Term(last.Index)

	var records []proposal.Record
	for _, e := range entries {
		if e.Term != currentTerm {
			continue
		}
		if rec, ok := h.proposals.FindAndRemove(e.Term, e.Index, currentTerm); ok {
			records = append(records, rec)
		}
	}

	return proposal.NewBatch(h.GroupID, h.ReplicaID, currentTerm, last.Index, commitTerm, entries, records)
}

func (h *Handle) toApplies(batch *proposal.Batch) []statemachine.Apply {
	byIndex := make(map[uint64]proposal.Record, len(batch.Records))
	for _, r := range batch.Records {
		byIndex[r.Index] = r
	}

	applies := make([]statemachine.Apply, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		rec, hasRec := byIndex[e.Index]

		var a statemachine.Apply
		a.Index = e.Index
		a.Term = e.Term

		switch e.Type {
		case raftpb.EntryConfChange, raftpb.EntryConfChangeV2:
			a.Kind = statemachine.ApplyMembership
			a.ChangeRequest = rec.Context
			a.ConfState = h.applyConfChange(e)
		default:
			if len(e.Data) == 0 {
				a.Kind = statemachine.ApplyNoOp
			} else {
				a.Kind = statemachine.ApplyNormal
				a.Data = e.Data
				a.Context = rec.Context
			}
		}

		if hasRec && rec.Reply != nil {
			a.Reply = func(resp interface{}, err error) { rec.Reply(resp, err) }
		}
		applies = append(applies, a)
	}
	return applies
}

func (h *Handle) applyConfChange(e raftpb.Entry) raftpb.ConfState {
	var cs *raftpb.ConfState
	if e.Type == raftpb.EntryConfChange {
		var cc raftpb.ConfChange
		if err := cc.Unmarshal(e.Data); err == nil {
			cs = h.raftGroup.ApplyConfChange(cc)
		}
	} else {
		var cc raftpb.ConfChangeV2
		if err := cc.Unmarshal(e.Data); err == nil {
			cs = h.raftGroup.ApplyConfChange(cc)
		}
	}
	if cs == nil {
		return raftpb.ConfState{}
	}
	_ = h.storage.SetConfState(*cs)
	return *cs
}

