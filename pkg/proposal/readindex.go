package proposal

import (
	"github.com/google/uuid"
)

// ReadIndexReply is invoked when a read-index request resolves, passing
// back the caller's opaque context (or an error).
type ReadIndexReply func(context []byte, err error)

// ReadIndexRecord tracks one in-flight linearisable read, keyed by a uuid
// because multiple in-flight reads are distinguished only by the context
// buffer threaded through the raft library's read-state mechanism (spec
// section 9, "Read-index context"). Index is the record's
// committed_read_index (spec section 3's read-index record field): zero
// until the matching ReadState arrives, then the commit index the read
// must catch up to before it may resolve.
type ReadIndexRecord struct {
	UUID    uuid.UUID
	Context []byte
	Index   uint64
	Reply   ReadIndexReply
}

// ReadIndexQueue is a per-group FIFO of pending read-index requests.
type ReadIndexQueue struct {
	records []ReadIndexRecord
}

// NewReadIndexQueue creates an empty read-index queue.
func NewReadIndexQueue() *ReadIndexQueue {
	return &ReadIndexQueue{}
}

// EncodeContext packs (uuid, userContext) into the buffer passed to the raft
// library's ReadIndex call, mirroring oceanraft's ReadIndexContext.
func EncodeContext(id uuid.UUID, userContext []byte) []byte {
	buf := make([]byte, 16+len(userContext))
	copy(buf[:16], id[:])
	copy(buf[16:], userContext)
	return buf
}

// DecodeContext reverses EncodeContext.
func DecodeContext(buf []byte) (uuid.UUID, []byte) {
	var id uuid.UUID
	if len(buf) < 16 {
		return id, nil
	}
	copy(id[:], buf[:16])
	return id, buf[16:]
}

// Push records a new pending read.
func (q *ReadIndexQueue) Push(r ReadIndexRecord) {
	q.records = append(q.records, r)
}

// Len reports the number of pending reads.
func (q *ReadIndexQueue) Len() int {
	return len(q.records)
}

// MarkReady records the commit index a read-state resolved to, once the
// raft library's Ready surfaces a ReadState whose context matches id. It
// does not resolve the read: per invariant 4, that only happens once the
// replica's applied index reaches this commit index (see PopApplied).
func (q *ReadIndexQueue) MarkReady(id uuid.UUID, index uint64) bool {
	for i := range q.records {
		if q.records[i].UUID == id && q.records[i].Index == 0 {
			q.records[i].Index = index
			return true
		}
	}
	return false
}

// PopApplied removes and returns every record whose committed_read_index
// has been reached by appliedIndex, leaving records still waiting (or not
// yet marked ready at all) in the queue.
func (q *ReadIndexQueue) PopApplied(appliedIndex uint64) []ReadIndexRecord {
	var ready []ReadIndexRecord
	remaining := q.records[:0]
	for _, r := range q.records {
		if r.Index != 0 && r.Index <= appliedIndex {
			ready = append(ready, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	q.records = remaining
	return ready
}

// DrainAll resolves and removes every pending read, used on group removal.
func (q *ReadIndexQueue) DrainAll(fn func(ReadIndexRecord)) {
	for _, r := range q.records {
		fn(r)
	}
	q.records = nil
}
