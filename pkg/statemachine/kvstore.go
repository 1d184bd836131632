package statemachine

import (
	"encoding/json"
	"sync"
)

// Command is the application-level command encoded into a Normal apply
// descriptor's Data field, following the teacher's json.Marshal(cmd)
// convention for encoding proposals (cuemby-warren/pkg/manager.go's
// Apply(cmd Command)) rather than a binary format.
type Command struct {
	Op    string `json:"op"` // "put" or "delete"
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// PutResponse is returned to a successful "put"/"delete" proposal.
type PutResponse struct {
	Index uint64
}

// KVStore is a reference sharded key-value state machine: one independent
// key space per group id, grounded on oceanraft's test fixture
// MemStoreStateMachine.
type KVStore struct {
	mu     sync.RWMutex
	shards map[uint64]map[string][]byte
}

// NewKVStore creates an empty multi-group key-value store.
func NewKVStore() *KVStore {
	return &KVStore{shards: make(map[uint64]map[string][]byte)}
}

// Get reads a key from one group's shard. Safe to call concurrently with
// Apply: one store-wide lock serialises reads against every Apply call.
func (s *KVStore) Get(groupID uint64, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shard, ok := s.shards[groupID]
	if !ok {
		return nil, false
	}
	v, ok := shard[key]
	return v, ok
}

// Apply implements StateMachine.
func (s *KVStore) Apply(state GroupState, applies []Apply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shard, ok := s.shards[state.GroupID]
	if !ok {
		shard = make(map[string][]byte)
		s.shards[state.GroupID] = shard
	}

	for _, a := range applies {
		switch a.Kind {
		case ApplyNoOp:
			// Nothing to apply; a new leader's empty entry.

		case ApplyNormal:
			var cmd Command
			err := json.Unmarshal(a.Data, &cmd)
			if err == nil {
				switch cmd.Op {
				case "put":
					shard[cmd.Key] = cmd.Value
				case "delete":
					delete(shard, cmd.Key)
				}
			}
			if a.Reply != nil {
				if err != nil {
					a.Reply(nil, err)
				} else {
					a.Reply(PutResponse{Index: a.Index}, nil)
				}
			}

		case ApplyMembership:
			// The example store carries no membership-derived state of its
			// own; acknowledging is enough for the group handle to advance
			// the raft conf state.
			if a.Reply != nil {
				a.Reply(nil, nil)
			}
		}
	}
	return nil
}
