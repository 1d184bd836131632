package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/wire"
)

type recordingHandler struct {
	received chan wire.RaftMessage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{received: make(chan wire.RaftMessage, 8)}
}

func (h *recordingHandler) Dispatch(msg wire.RaftMessage) {
	h.received <- msg
}

func TestLocalDeliversToRegisteredServer(t *testing.T) {
	tr := NewLocal()
	h := newRecordingHandler()
	require.NoError(t, tr.RegisterServer(2, h))

	msg := wire.RaftMessage{
		GroupID: 1,
		From:    wire.ReplicaDescriptor{GroupID: 1, ReplicaID: 1, NodeID: 1},
		To:      wire.ReplicaDescriptor{GroupID: 1, ReplicaID: 2, NodeID: 2},
		Message: raftpb.Message{Type: raftpb.MsgHeartbeat, From: 1, To: 2},
	}
	tr.Send(msg)

	select {
	case got := <-h.received:
		require.Equal(t, msg.GroupID, got.GroupID)
		require.Equal(t, msg.Message.Type, got.Message.Type)
	case <-time.After(time.Second):
		t.Fatal("message was never delivered")
	}
}

func TestLocalDropsMessageToUnknownDestination(t *testing.T) {
	tr := NewLocal()
	// No handler registered for node 99; Send must not panic or block.
	tr.Send(wire.RaftMessage{To: wire.ReplicaDescriptor{NodeID: 99}})
}

func TestLocalRegisterServerRejectsDuplicate(t *testing.T) {
	tr := NewLocal()
	require.NoError(t, tr.RegisterServer(1, newRecordingHandler()))
	err := tr.RegisterServer(1, newRecordingHandler())
	require.Error(t, err)
}
