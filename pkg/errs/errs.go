// Package errs implements the error taxonomy shared by the node actor,
// group handle, storage adapters, transport, and client façade: one Kind
// enum with structured fields, checked with errors.Is/errors.As, rather than
// one Go error type per kind.
package errs

import "fmt"

// Kind identifies one semantic error family.
type Kind int

const (
	KindConfig Kind = iota
	KindBadParameter
	KindChannelFull
	KindChannelSenderClosed
	KindChannelReceiverClosed
	KindNotLeader
	KindStale
	KindUnexpectedIndex
	KindGroupNotExist
	KindGroupDeleted
	KindGroupExists
	KindStorageCompacted
	KindStorageUnavailable
	KindStorageLogTemporarilyUnavailable
	KindStorageSnapshotOutOfDate
	KindStorageSnapshotTemporarilyUnavailable
	KindStorageOther
	KindTransportServerAlreadyExists
	KindTransportServerNodeNotFound
	KindTransportServer
	KindTimeout
	KindRaft
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindBadParameter:
		return "bad_parameter"
	case KindChannelFull:
		return "channel_full"
	case KindChannelSenderClosed:
		return "channel_sender_closed"
	case KindChannelReceiverClosed:
		return "channel_receiver_closed"
	case KindNotLeader:
		return "not_leader"
	case KindStale:
		return "stale"
	case KindUnexpectedIndex:
		return "unexpected_index"
	case KindGroupNotExist:
		return "group_not_exist"
	case KindGroupDeleted:
		return "group_deleted"
	case KindGroupExists:
		return "group_exists"
	case KindStorageCompacted:
		return "storage_compacted"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindStorageLogTemporarilyUnavailable:
		return "storage_log_temporarily_unavailable"
	case KindStorageSnapshotOutOfDate:
		return "storage_snapshot_out_of_date"
	case KindStorageSnapshotTemporarilyUnavailable:
		return "storage_snapshot_temporarily_unavailable"
	case KindStorageOther:
		return "storage_other"
	case KindTransportServerAlreadyExists:
		return "transport_server_already_exists"
	case KindTransportServerNodeNotFound:
		return "transport_server_node_not_found"
	case KindTransportServer:
		return "transport_server"
	case KindTimeout:
		return "timeout"
	case KindRaft:
		return "raft"
	default:
		return "unknown"
	}
}

// Error is the single error type used throughout the module.
type Error struct {
	Kind Kind

	// Propose{NotLeader}
	NodeID, GroupID, ReplicaID uint64

	// Propose{Stale}
	Requested, Current uint64

	// Propose{UnexpectedIndex}
	Expected, Got uint64

	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotLeader:
		return fmt.Sprintf("not leader: node=%d group=%d replica=%d", e.NodeID, e.GroupID, e.ReplicaID)
	case KindStale:
		return fmt.Sprintf("stale proposal: requested_term=%d current_term=%d", e.Requested, e.Current)
	case KindUnexpectedIndex:
		return fmt.Sprintf("unexpected index: expected=%d got=%d", e.Expected, e.Got)
	case KindGroupNotExist:
		return fmt.Sprintf("group %d does not exist", e.GroupID)
	case KindGroupDeleted:
		return fmt.Sprintf("group %d deleted", e.GroupID)
	case KindGroupExists:
		return fmt.Sprintf("group %d already exists", e.GroupID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
		}
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, &Error{Kind: X}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NotLeader(nodeID, groupID, replicaID uint64) *Error {
	return &Error{Kind: KindNotLeader, NodeID: nodeID, GroupID: groupID, ReplicaID: replicaID}
}

func Stale(requestedTerm, currentTerm uint64) *Error {
	return &Error{Kind: KindStale, Requested: requestedTerm, Current: currentTerm}
}

func UnexpectedIndex(expected, got uint64) *Error {
	return &Error{Kind: KindUnexpectedIndex, Expected: expected, Got: got}
}

func GroupNotExist(groupID uint64) *Error {
	return &Error{Kind: KindGroupNotExist, GroupID: groupID}
}

func GroupDeleted(groupID uint64) *Error {
	return &Error{Kind: KindGroupDeleted, GroupID: groupID}
}

func GroupExists(groupID uint64) *Error {
	return &Error{Kind: KindGroupExists, GroupID: groupID}
}

func BadParameter(detail string) *Error {
	return &Error{Kind: KindBadParameter, Detail: detail}
}

func ConfigError(detail string) *Error {
	return &Error{Kind: KindConfig, Detail: detail}
}

func ChannelFull() *Error      { return &Error{Kind: KindChannelFull} }
func SenderClosed() *Error     { return &Error{Kind: KindChannelSenderClosed} }
func ReceiverClosed() *Error   { return &Error{Kind: KindChannelReceiverClosed} }
func Timeout() *Error          { return &Error{Kind: KindTimeout} }

func Storage(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func TransportServer(detail string) *Error {
	return &Error{Kind: KindTransportServer, Detail: detail}
}

func TransportServerAlreadyExists(nodeID uint64) *Error {
	return &Error{Kind: KindTransportServerAlreadyExists, NodeID: nodeID}
}

func TransportServerNodeNotFound(nodeID uint64) *Error {
	return &Error{Kind: KindTransportServerNodeNotFound, NodeID: nodeID}
}

func Raft(err error) *Error {
	return &Error{Kind: KindRaft, Err: err}
}
