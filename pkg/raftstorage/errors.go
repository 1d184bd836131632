package raftstorage

import (
	"errors"

	"go.etcd.io/raft/v3"

	"github.com/cuemby/multiraft/pkg/errs"
)

// LogTemporarilyUnavailable and SnapshotOutOfDate are transient conditions
// the stock raft library has no sentinel for. wrapStorageErr classifies them
// when a GroupStorage returns them; neither the memory nor the bbolt backend
// in this package currently returns either one.
var (
	ErrLogTemporarilyUnavailable = errors.New("raftstorage: log temporarily unavailable")
	ErrSnapshotOutOfDate         = errors.New("raftstorage: snapshot out of date")
)

// wrapStorageErr classifies a storage-layer error into the five transient
// members of the Storage{} taxonomy (reported back to the raft library so it
// can retry) or StorageOther (fatal for the group).
func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, raft.ErrCompacted):
		return errs.Storage(errs.KindStorageCompacted, err)
	case errors.Is(err, raft.ErrUnavailable):
		return errs.Storage(errs.KindStorageUnavailable, err)
	case errors.Is(err, raft.ErrSnapshotTemporarilyUnavailable):
		return errs.Storage(errs.KindStorageSnapshotTemporarilyUnavailable, err)
	case errors.Is(err, ErrLogTemporarilyUnavailable):
		return errs.Storage(errs.KindStorageLogTemporarilyUnavailable, err)
	case errors.Is(err, ErrSnapshotOutOfDate):
		return errs.Storage(errs.KindStorageSnapshotOutOfDate, err)
	default:
		return errs.Storage(errs.KindStorageOther, err)
	}
}
