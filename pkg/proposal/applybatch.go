package proposal

import "go.etcd.io/raft/v3/raftpb"

// MaxApplyBatchSize is the default byte budget for merging apply batches
// across consecutive ready cycles, mirroring oceanraft's
// SUGGEST_MAX_APPLY_BATCH_SIZE.
const MaxApplyBatchSize = 64 * 1024 * 1024

// Batch describes work to hand to the state machine for one group: the
// committed entries and the proposal records whose (term, index) match
// entries in the batch.
type Batch struct {
	GroupID     uint64
	ReplicaID   uint64
	Term        uint64
	CommitIndex uint64
	CommitTerm  uint64
	Entries     []raftpb.Entry
	Records     []Record // parallel-ish: not 1:1 with Entries, only entries with a matching proposal appear
	entriesSize uint64
}

// NewBatch creates a batch and computes its entry byte size once up front.
func NewBatch(groupID, replicaID, term, commitIndex, commitTerm uint64, entries []raftpb.Entry, records []Record) *Batch {
	var size uint64
	for i := range entries {
		size += uint64(entries[i].Size())
	}
	return &Batch{
		GroupID:     groupID,
		ReplicaID:   replicaID,
		Term:        term,
		CommitIndex: commitIndex,
		CommitTerm:  commitTerm,
		Entries:     entries,
		Records:     records,
		entriesSize: size,
	}
}

// TryBatch attempts to merge that into b, following oceanraft's
// ApplyData::try_batch rule: the two batches must address the same
// (group, replica), the merge must advance (term, commit_index, commit_term)
// monotonically, and the combined entry bytes must stay within maxSize.
// Returns true if the merge happened; if false, b is unchanged and the
// caller must dispatch b and start a new batch with that.
func (b *Batch) TryBatch(that *Batch, maxSize uint64) bool {
	if b.GroupID != that.GroupID || b.ReplicaID != that.ReplicaID {
		return false
	}
	if that.Term < b.Term || that.CommitIndex < b.CommitIndex || that.CommitTerm < b.CommitTerm {
		return false
	}
	if b.entriesSize+that.entriesSize > maxSize {
		return false
	}

	b.Term = that.Term
	b.CommitIndex = that.CommitIndex
	b.CommitTerm = that.CommitTerm
	b.Entries = append(b.Entries, that.Entries...)
	b.Records = append(b.Records, that.Records...)
	b.entriesSize += that.entriesSize
	return true
}
