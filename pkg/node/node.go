// Package node implements the node actor of spec section 4.7: the
// single-threaded event loop that owns every group on a process, dispatches
// inbound Raft messages, drives ticks, coalesces heartbeats, and drives
// each group's ready -> write -> apply pipeline.
//
// Grounded on junxie6-dgraph/conn/node.go's Node/run-loop shape (one
// goroutine, channel-driven, select over inbound message/propose/tick
// sources) generalised from one Raft group to many.
package node

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/group"
	"github.com/cuemby/multiraft/pkg/metrics"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/tick"
	"github.com/cuemby/multiraft/pkg/transport"
	"github.com/cuemby/multiraft/pkg/wire"
)

// Config holds the node-wide settings spec section 3 lists on the Node
// data model: tick interval (carried by the Ticker itself), election/
// heartbeat tick counts (carried by GroupConfig), per-channel capacities,
// and the apply-batch byte budget.
type Config struct {
	NodeID             uint64
	GroupConfig        group.Config
	ChannelCapacity    int
	MaxApplyBatchBytes uint64
}

// DefaultConfig mirrors DefaultConfig in pkg/group for the node-wide knobs.
func DefaultConfig(nodeID uint64) Config {
	return Config{
		NodeID:             nodeID,
		GroupConfig:        group.DefaultConfig(),
		ChannelCapacity:    256,
		MaxApplyBatchBytes: 64 * 1024 * 1024,
	}
}

// Node is the node actor. Every field below this comment's boundary is
// touched only by the run loop goroutine; callers reach it exclusively
// through the channel-based request methods in requests.go, matching
// spec section 4.7's "no mutex required" design.
type Node struct {
	id  uint64
	cfg Config

	registry  raftstorage.Registry
	cache     *replicacache.Cache
	sm        statemachine.StateMachine
	transport transport.Transport
	broker    *events.Broker
	ticker    tick.Ticker
	logger    zerolog.Logger

	groups     map[uint64]*group.Handle
	activity   map[uint64]bool
	inert      map[uint64]bool
	peerGroups map[uint64]map[uint64]bool // peer node id -> group ids known resident there
	hbCounter  int

	raftMessageCh       chan wire.RaftMessage
	createGroupCh       chan *CreateGroupRequest
	loadGroupCh         chan *LoadGroupRequest
	removeGroupCh       chan *RemoveGroupRequest
	proposeWriteCh      chan *ProposeWriteRequest
	proposeMembershipCh chan *ProposeMembershipRequest
	proposeReadIndexCh  chan *ProposeReadIndexRequest
	campaignCh          chan *CampaignRequest
	queryCh             chan *QueryRequest
	statsCh             chan *statsRequest

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a node actor. Call Start to begin running its loop.
func New(cfg Config, registry raftstorage.Registry, cache *replicacache.Cache, sm statemachine.StateMachine, tr transport.Transport, broker *events.Broker, ticker tick.Ticker) *Node {
	n := &Node{
		id:         cfg.NodeID,
		cfg:        cfg,
		registry:   registry,
		cache:      cache,
		sm:         sm,
		transport:  tr,
		broker:     broker,
		ticker:     ticker,
		logger:     zerolog.Nop(),
		groups:     make(map[uint64]*group.Handle),
		activity:   make(map[uint64]bool),
		inert:      make(map[uint64]bool),
		peerGroups: make(map[uint64]map[uint64]bool),

		raftMessageCh:       make(chan wire.RaftMessage, cfg.ChannelCapacity),
		createGroupCh:       make(chan *CreateGroupRequest, cfg.ChannelCapacity),
		loadGroupCh:         make(chan *LoadGroupRequest, cfg.ChannelCapacity),
		removeGroupCh:       make(chan *RemoveGroupRequest, cfg.ChannelCapacity),
		proposeWriteCh:      make(chan *ProposeWriteRequest, cfg.ChannelCapacity),
		proposeMembershipCh: make(chan *ProposeMembershipRequest, cfg.ChannelCapacity),
		proposeReadIndexCh:  make(chan *ProposeReadIndexRequest, cfg.ChannelCapacity),
		campaignCh:          make(chan *CampaignRequest, cfg.ChannelCapacity),
		queryCh:             make(chan *QueryRequest, cfg.ChannelCapacity),
		statsCh:             make(chan *statsRequest, 1),

		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	return n
}

// SetLogger attaches a logger carrying the node id field.
func (n *Node) SetLogger(l zerolog.Logger) { n.logger = l }

// NodeID reports this actor's node id.
func (n *Node) NodeID() uint64 { return n.id }

// Start registers this node as the transport's dispatch handler and
// launches the run loop and the tick-feeder goroutine.
func (n *Node) Start(ctx context.Context) error {
	if err := n.transport.RegisterServer(n.id, n); err != nil {
		return err
	}
	tickCh := make(chan struct{}, 1)
	go n.feedTicks(ctx, tickCh)
	go n.run(tickCh)
	return nil
}

// Stop signals the run loop to exit and waits for it to finish.
func (n *Node) Stop() {
	n.once.Do(func() { close(n.stopCh) })
	<-n.doneCh
}

// feedTicks drains the Ticker (which may block) and forwards a non-blocking
// pulse to the run loop, so a slow consumer never backs up the ticker.
func (n *Node) feedTicks(ctx context.Context, tickCh chan<- struct{}) {
	for {
		if err := n.ticker.Recv(ctx); err != nil {
			return
		}
		select {
		case tickCh <- struct{}{}:
		default:
		}
		select {
		case <-n.stopCh:
			return
		default:
		}
	}
}

// Dispatch implements transport.Handler: it hands an inbound wire envelope
// to the run loop without blocking the transport's I/O goroutine.
func (n *Node) Dispatch(msg wire.RaftMessage) {
	select {
	case n.raftMessageCh <- msg:
	case <-n.stopCh:
	default:
		// Back-pressure at the transport boundary is dropped, not queued:
		// Raft tolerates message loss, and blocking here would stall the
		// transport's receive path for every other group.
	}
}

// statsRequest carries a snapshot of every group and the peer-node count
// out of the run loop for the metrics collector; see pkg/metrics/collector.go.
type statsRequest struct {
	reply chan statsSnapshot
}

type statsSnapshot struct {
	groups []metrics.GroupSnapshot
	peers  int
}

// stats round-trips through the run loop once; both StatsProvider methods
// below share it so the collector never reads group state directly.
func (n *Node) stats() statsSnapshot {
	reply := make(chan statsSnapshot, 1)
	select {
	case n.statsCh <- &statsRequest{reply: reply}:
	case <-n.stopCh:
		return statsSnapshot{}
	}
	select {
	case s := <-reply:
		return s
	case <-n.stopCh:
		return statsSnapshot{}
	}
}

// GroupSnapshots implements metrics.StatsProvider.
func (n *Node) GroupSnapshots() []metrics.GroupSnapshot { return n.stats().groups }

// PeerCount implements metrics.StatsProvider.
func (n *Node) PeerCount() int { return n.stats().peers }
