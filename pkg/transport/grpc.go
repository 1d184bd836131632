package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/cuemby/multiraft/pkg/errs"
	"github.com/cuemby/multiraft/pkg/wire"
)

// GRPC is a real network Transport: one gRPC server accepting Dispatch
// calls for the locally-registered handler, and a dial-on-demand client
// pool keyed by destination node id.
type GRPC struct {
	mu       sync.RWMutex
	handler  Handler
	handlerNode uint64
	peers    map[uint64]string // node id -> dial address
	conns    map[uint64]*grpc.ClientConn

	server   *grpc.Server
	listener net.Listener

	dialTimeout time.Duration
}

// NewGRPC creates a gRPC transport with no server listening yet; call
// Listen to start accepting Dispatch calls and AddPeer to register dial
// addresses for outbound Send calls.
func NewGRPC() *GRPC {
	return &GRPC{
		peers:       make(map[uint64]string),
		conns:       make(map[uint64]*grpc.ClientConn),
		dialTimeout: 5 * time.Second,
	}
}

// Listen starts the gRPC server on addr, serving in the background.
func (t *GRPC) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	t.listener = lis
	t.server = grpc.NewServer()
	t.server.RegisterService(&transportServiceDesc, t)

	go func() {
		_ = t.server.Serve(lis)
	}()
	return nil
}

// AddPeer records the dial address a node id's messages should go to.
func (t *GRPC) AddPeer(nodeID uint64, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[nodeID] = addr
}

// RegisterServer attaches the handler invoked by inbound Dispatch calls.
// Only one handler is supported per process, matching one node per
// transport instance.
func (t *GRPC) RegisterServer(nodeID uint64, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler != nil {
		return errs.TransportServerAlreadyExists(nodeID)
	}
	t.handler = h
	t.handlerNode = nodeID
	return nil
}

func (t *GRPC) RemoveServer(nodeID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil || t.handlerNode != nodeID {
		return errs.TransportServerNodeNotFound(nodeID)
	}
	t.handler = nil
	return nil
}

// Dispatch implements dispatchService; invoked by the gRPC runtime on an
// inbound call. It hands the message to the registered handler and
// returns immediately, matching spec section 4.3's contract that dispatch
// returns once the message has reached the actor, not once applied.
func (t *GRPC) Dispatch(ctx context.Context, msg *wire.RaftMessage) (*wire.RaftMessageResponse, error) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil {
		return nil, status.Error(codes.Unavailable, "transport: no handler registered")
	}
	h.Dispatch(*msg)
	return &wire.RaftMessageResponse{}, nil
}

// Send dials (or reuses a cached connection to) the destination node and
// issues one Dispatch RPC on its own goroutine; Send itself never blocks
// on network I/O. An unknown destination, or a dial/RPC failure, is
// dropped — Raft tolerates message loss.
func (t *GRPC) Send(msg wire.RaftMessage) {
	go func() {
		conn, ok := t.connFor(msg.To.NodeID)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
		defer cancel()
		resp := new(wire.RaftMessageResponse)
		_ = conn.Invoke(ctx, dispatchMethod, &msg, resp, grpc.CallContentSubtype(gobCodecName))
	}()
}

func (t *GRPC) connFor(nodeID uint64) (*grpc.ClientConn, bool) {
	t.mu.RLock()
	conn, ok := t.conns[nodeID]
	addr, hasAddr := t.peers[nodeID]
	t.mu.RUnlock()
	if ok {
		return conn, true
	}
	if !hasAddr {
		return nil, false
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, false
	}

	t.mu.Lock()
	if existing, ok := t.conns[nodeID]; ok {
		t.mu.Unlock()
		conn.Close()
		return existing, true
	}
	t.conns[nodeID] = conn
	t.mu.Unlock()
	return conn, true
}

// Close stops the server (if listening) and closes every outbound
// connection.
func (t *GRPC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server != nil {
		t.server.GracefulStop()
	}
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = make(map[uint64]*grpc.ClientConn)
	return nil
}
