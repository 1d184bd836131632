package transport

import (
	"sync"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/wire"
)

// Local is an in-process Transport: messages are delivered by a direct
// goroutine-to-goroutine handoff, keyed by node id, with no network I/O.
// Used by tests and single-process demos that simulate multiple nodes.
type Local struct {
	mu      sync.RWMutex
	servers map[uint64]Handler
}

// NewLocal creates an empty in-process transport.
func NewLocal() *Local {
	return &Local{servers: make(map[uint64]Handler)}
}

func (t *Local) RegisterServer(nodeID uint64, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.servers[nodeID]; ok {
		return errs.TransportServerAlreadyExists(nodeID)
	}
	t.servers[nodeID] = h
	return nil
}

func (t *Local) RemoveServer(nodeID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.servers, nodeID)
	return nil
}

// Send dispatches msg on its own goroutine so a slow or blocked handler on
// the destination node cannot stall the sender's ready cycle. An unknown
// destination is dropped silently — Raft tolerates message loss.
func (t *Local) Send(msg wire.RaftMessage) {
	t.mu.RLock()
	h, ok := t.servers[msg.To.NodeID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	go h.Dispatch(msg)
}

func (t *Local) Close() error { return nil }
