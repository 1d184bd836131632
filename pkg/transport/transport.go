// Package transport implements spec section 4.3's send/dispatch contract:
// fire-and-forget delivery of a wire envelope to a remote node, with the
// server side handing an inbound envelope to a registered Handler and
// returning once the handler has accepted it, not once it has been applied.
//
// Grounded on oceanraft/harness/src/transport.rs's Transport trait and
// LocalTransport for the in-process implementation; cuemby-warren's
// pkg/api and pkg/client for the gRPC dial/serve idiom.
package transport

import (
	"github.com/cuemby/multiraft/pkg/wire"
)

// Handler receives a dispatched raft message. The node actor implements
// this; Dispatch hands the message to the actor's inbound channel and
// returns, it does not wait for the message to be applied.
type Handler interface {
	Dispatch(msg wire.RaftMessage)
}

// Transport is the interface the node actor sends outbound raft messages
// through, shared by the in-process Local implementation and the gRPC
// implementation.
type Transport interface {
	// Send enqueues msg for delivery to msg.To.NodeID. Non-blocking: it
	// returns before the network I/O (if any) completes. Delivery is
	// best-effort — loss is tolerated by the Raft protocol.
	Send(msg wire.RaftMessage)

	// RegisterServer attaches the handler that receives messages addressed
	// to nodeID. Only one handler may be registered per node id.
	RegisterServer(nodeID uint64, h Handler) error

	// RemoveServer detaches a previously registered handler.
	RemoveServer(nodeID uint64) error

	// Close releases any background resources (listeners, connections).
	Close() error
}
