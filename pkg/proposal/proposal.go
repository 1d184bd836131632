// Package proposal implements the per-group proposal and read-index queues
// of spec section 4.6, plus the apply-batch type and its try_batch merge
// rule, grounded on oceanraft's ProposalQueue, ReadIndexQueue, and
// ApplyData::try_batch.
package proposal

import "github.com/cuemby/multiraft/pkg/statemachine"

// Record binds a pending client write or membership change to the Raft log
// slot Raft assigned it. Created at propose time; resolved (reply sent)
// when the entry at (Term, Index) is applied, or resolved Stale when the
// current term advances past Term without a match.
type Record struct {
	Index        uint64
	Term         uint64
	IsConfChange bool
	Context      []byte
	Reply        statemachine.ReplyFunc
}

// Queue is a per-group FIFO of in-flight proposals, ordered by increasing
// index (entries are always proposed in increasing index order within a
// term, so a slice append is sufficient).
type Queue struct {
	records []Record
}

// NewQueue creates an empty proposal queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a newly-proposed record.
func (q *Queue) Push(r Record) {
	q.records = append(q.records, r)
}

// Len reports the number of pending records, used for the proposal queue
// depth metric.
func (q *Queue) Len() int {
	return len(q.records)
}

// FindAndRemove scans for a record matching (term, index) — only records
// proposed under the current term are eligible, since proposals from
// earlier terms cannot be matched: the current leader may have overwritten
// the log at that index. Matching records are removed from the queue along
// with every record that precedes them (they can never be matched after
// being skipped over by a higher index).
func (q *Queue) FindAndRemove(term, index, currentTerm uint64) (Record, bool) {
	if term != currentTerm {
		return Record{}, false
	}
	for i, r := range q.records {
		if r.Term == term && r.Index == index {
			rec := r
			q.records = q.records[i+1:]
			return rec, true
		}
		if r.Index > index {
			break
		}
	}
	return Record{}, false
}

// DrainStale resolves every record whose Term is strictly less than
// currentTerm with fn, and removes them from the queue. Called once per
// ready cycle before scanning committed entries (see DESIGN.md's resolution
// of spec.md's Open Question).
func (q *Queue) DrainStale(currentTerm uint64, fn func(Record)) {
	kept := q.records[:0]
	for _, r := range q.records {
		if r.Term < currentTerm {
			fn(r)
			continue
		}
		kept = append(kept, r)
	}
	q.records = kept
}

// DrainAll resolves and removes every pending record, used when a group is
// removed (every pending proposal is resolved Deleted).
func (q *Queue) DrainAll(fn func(Record)) {
	for _, r := range q.records {
		fn(r)
	}
	q.records = nil
}
