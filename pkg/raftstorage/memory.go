package raftstorage

import (
	"sync"

	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/multiraft/pkg/errs"
)

// memoryGroupStorage adapts raft.MemoryStorage to GroupStorage; used by tests
// and the in-memory transport harness.
type memoryGroupStorage struct {
	*raft.MemoryStorage
}

func newMemoryGroupStorage(confState raftpb.ConfState) *memoryGroupStorage {
	ms := raft.NewMemoryStorage()
	ms.ApplySnapshot(raftpb.Snapshot{Metadata: raftpb.SnapshotMetadata{ConfState: confState}})
	return &memoryGroupStorage{MemoryStorage: ms}
}

func (s *memoryGroupStorage) Append(entries []raftpb.Entry) error {
	return s.MemoryStorage.Append(entries)
}

func (s *memoryGroupStorage) SetHardState(st raftpb.HardState) error {
	return s.MemoryStorage.SetHardState(st)
}

func (s *memoryGroupStorage) SetConfState(cs raftpb.ConfState) error {
	snap, err := s.MemoryStorage.Snapshot()
	if err != nil {
		return err
	}
	snap.Metadata.ConfState = cs
	return s.MemoryStorage.ApplySnapshot(snap)
}

func (s *memoryGroupStorage) InstallSnapshot(snap raftpb.Snapshot) error {
	return s.MemoryStorage.ApplySnapshot(snap)
}

// MemoryRegistry is an in-process, non-durable Registry implementation.
type MemoryRegistry struct {
	mu       sync.RWMutex
	groups   map[uint64]*memoryGroupStorage
	replicas map[uint64]map[uint64]ReplicaDesc // groupID -> replicaID -> desc
	byNode   map[uint64]map[uint64]uint64      // groupID -> nodeID -> replicaID
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		groups:   make(map[uint64]*memoryGroupStorage),
		replicas: make(map[uint64]map[uint64]ReplicaDesc),
		byNode:   make(map[uint64]map[uint64]uint64),
	}
}

func (r *MemoryRegistry) GroupStorage(groupID uint64) (GroupStorage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gs, ok := r.groups[groupID]
	if !ok {
		return nil, errs.GroupNotExist(groupID)
	}
	return gs, nil
}

func (r *MemoryRegistry) CreateGroupStorage(groupID uint64, confState raftpb.ConfState) (GroupStorage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; ok {
		return nil, errs.GroupExists(groupID)
	}
	gs := newMemoryGroupStorage(confState)
	r.groups[groupID] = gs
	r.replicas[groupID] = make(map[uint64]ReplicaDesc)
	r.byNode[groupID] = make(map[uint64]uint64)
	return gs, nil
}

func (r *MemoryRegistry) RemoveGroupStorage(groupID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, groupID)
	delete(r.replicas, groupID)
	delete(r.byNode, groupID)
	return nil
}

func (r *MemoryRegistry) Groups() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint64, 0, len(r.groups))
	for id := range r.groups {
		out = append(out, id)
	}
	return out
}

func (r *MemoryRegistry) GetReplicaDesc(groupID, replicaID uint64) (ReplicaDesc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.replicas[groupID]
	if !ok {
		return ReplicaDesc{}, false
	}
	d, ok := m[replicaID]
	return d, ok
}

func (r *MemoryRegistry) SetReplicaDesc(groupID uint64, desc ReplicaDesc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.replicas[groupID]; !ok {
		r.replicas[groupID] = make(map[uint64]ReplicaDesc)
		r.byNode[groupID] = make(map[uint64]uint64)
	}
	r.replicas[groupID][desc.ReplicaID] = desc
	if desc.NodeID != 0 {
		r.byNode[groupID][desc.NodeID] = desc.ReplicaID
	}
	return nil
}

func (r *MemoryRegistry) RemoveReplicaDesc(groupID, replicaID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.replicas[groupID]
	if !ok {
		return nil
	}
	desc, ok := m[replicaID]
	if ok {
		delete(r.byNode[groupID], desc.NodeID)
	}
	delete(m, replicaID)
	return nil
}

func (r *MemoryRegistry) ReplicaForNode(groupID, nodeID uint64) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byNode[groupID]
	if !ok {
		return 0, false
	}
	replicaID, ok := m[nodeID]
	return replicaID, ok
}
