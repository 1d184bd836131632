package node

import (
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/metrics"
	"github.com/cuemby/multiraft/pkg/wire"
)

// addPeerGroup records that groupID is believed resident on peer nodeID, for
// the coalesced-heartbeat fan-out map.
func (n *Node) addPeerGroup(nodeID, groupID uint64) {
	groups, ok := n.peerGroups[nodeID]
	if !ok {
		groups = make(map[uint64]bool)
		n.peerGroups[nodeID] = groups
	}
	groups[groupID] = true
}

// removePeerGroup drops groupID from every peer's fan-out set, cleaning up
// any peer left with no groups.
func (n *Node) removePeerGroup(groupID uint64) {
	for nodeID, groups := range n.peerGroups {
		delete(groups, groupID)
		if len(groups) == 0 {
			delete(n.peerGroups, nodeID)
		}
	}
}

// sendCoalescedHeartbeats implements spec section 9's coalesced heartbeats:
// one group_id=0 wire message per peer per heartbeat-tick interval, instead
// of one per (group, peer) pair.
func (n *Node) sendCoalescedHeartbeats() {
	for peerNodeID, groups := range n.peerGroups {
		if len(groups) == 0 {
			continue
		}
		n.sendCoalesced(peerNodeID, raftpb.MsgHeartbeat)
		metrics.CoalescedHeartbeatsSentTotal.Inc()
		metrics.HeartbeatFanoutSize.Observe(float64(len(groups)))
	}
}

func (n *Node) sendCoalesced(peerNodeID uint64, msgType raftpb.MessageType) {
	n.transport.Send(wire.RaftMessage{
		GroupID: 0,
		From:    wire.ReplicaDescriptor{NodeID: n.id},
		To:      wire.ReplicaDescriptor{NodeID: peerNodeID},
		Message: raftpb.Message{Type: msgType},
	})
}

// onCoalescedHeartbeat implements both halves of the group_id=0 exchange
// (spec section 9): a received MsgHeartbeat steps a synthetic heartbeat
// into every local group believed resident on the sender, then replies
// with exactly one coalesced HeartbeatResponse — never the per-group
// MsgHeartbeatResp each Step produces internally, which stays local and is
// dropped by HandleWrite's per-group message loop. A received
// MsgHeartbeatResp (that reply, arriving back at the original sender) is
// fanned out the same way but draws no further reply, so the two nodes
// exchange one message each way per interval instead of one per group.
func (n *Node) onCoalescedHeartbeat(msg wire.RaftMessage) {
	groups, ok := n.peerGroups[msg.From.NodeID]
	if !ok {
		return
	}
	stepType := raftpb.MsgHeartbeat
	if msg.Message.Type == raftpb.MsgHeartbeatResp {
		stepType = raftpb.MsgHeartbeatResp
	}

	for groupID := range groups {
		h, ok := n.groups[groupID]
		if !ok {
			continue
		}
		peerReplicaID, ok := n.cache.ReplicaForNode(groupID, msg.From.NodeID)
		if !ok {
			continue
		}
		_ = h.Step(raftpb.Message{
			Type: stepType,
			From: peerReplicaID,
			To:   h.ReplicaID,
			Term: h.Term(),
		})
		n.activity[groupID] = true
	}

	if msg.Message.Type != raftpb.MsgHeartbeatResp {
		n.sendCoalesced(msg.From.NodeID, raftpb.MsgHeartbeatResp)
	}
}
