// Package replicacache implements the write-through cache in front of the
// multi-group storage registry described in spec section 4.5, plus the
// repair rule for a replica descriptor lost from storage.
package replicacache

import (
	"sync"

	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/wire"
)

// Cache is a write-through cache over a raftstorage.Registry for
// (group, replica) -> node and (group, node) -> replica lookups. The node
// actor needs these translations on every outbound Raft message and every
// heartbeat fan-out; going to storage each time would be prohibitive.
type Cache struct {
	registry raftstorage.Registry

	mu       sync.RWMutex
	byKey    map[cacheKey]wire.ReplicaDescriptor // (group, replica) -> descriptor
	byNode   map[cacheKey]uint64                 // (group, node) -> replica
}

type cacheKey struct {
	groupID uint64
	id      uint64
}

// New creates a cache over the given registry.
func New(registry raftstorage.Registry) *Cache {
	return &Cache{
		registry: registry,
		byKey:    make(map[cacheKey]wire.ReplicaDescriptor),
		byNode:   make(map[cacheKey]uint64),
	}
}

// ReplicaDesc resolves (group, replica) to its full descriptor, loading
// from storage on a cache miss.
func (c *Cache) ReplicaDesc(groupID, replicaID uint64) (wire.ReplicaDescriptor, bool) {
	key := cacheKey{groupID, replicaID}

	c.mu.RLock()
	if d, ok := c.byKey[key]; ok {
		c.mu.RUnlock()
		return d, true
	}
	c.mu.RUnlock()

	stored, ok := c.registry.GetReplicaDesc(groupID, replicaID)
	if !ok {
		return wire.ReplicaDescriptor{}, false
	}
	desc := wire.ReplicaDescriptor{GroupID: groupID, ReplicaID: stored.ReplicaID, NodeID: stored.NodeID}
	c.insert(desc)
	return desc, true
}

// ReplicaForNode resolves (group, node) to the replica id the node hosts
// for that group, if known.
func (c *Cache) ReplicaForNode(groupID, nodeID uint64) (uint64, bool) {
	key := cacheKey{groupID, nodeID}

	c.mu.RLock()
	if r, ok := c.byNode[key]; ok {
		c.mu.RUnlock()
		return r, true
	}
	c.mu.RUnlock()

	replicaID, ok := c.registry.ReplicaForNode(groupID, nodeID)
	if !ok {
		return 0, false
	}
	desc, ok := c.ReplicaDesc(groupID, replicaID)
	if ok {
		c.insert(desc)
	}
	return replicaID, true
}

// CacheReplicaDesc records a descriptor. If persist is true the storage
// registry is updated first (write-through), then the cache; if false only
// the in-memory cache is updated. The repair rule (Repair) calls it with
// persist set to true.
func (c *Cache) CacheReplicaDesc(desc wire.ReplicaDescriptor, persist bool) error {
	if persist {
		err := c.registry.SetReplicaDesc(desc.GroupID, raftstorage.ReplicaDesc{
			ReplicaID: desc.ReplicaID,
			NodeID:    desc.NodeID,
		})
		if err != nil {
			return err
		}
	}
	c.insert(desc)
	return nil
}

func (c *Cache) insert(desc wire.ReplicaDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[cacheKey{desc.GroupID, desc.ReplicaID}] = desc
	if desc.NodeID != 0 {
		c.byNode[cacheKey{desc.GroupID, desc.NodeID}] = desc.ReplicaID
	}
}

// Repair implements the repair rule of spec section 4.5: when a ready
// cycle is running for a group whose local replica descriptor is missing
// from storage, the fact that the raft instance exists locally and is
// producing Ready proves the replica exists — the storage record was
// merely lost. The actor fabricates one from (group_id, local_node_id,
// raft.id) and writes it through.
func (c *Cache) Repair(groupID, nodeID, localReplicaID uint64) wire.ReplicaDescriptor {
	if desc, ok := c.ReplicaDesc(groupID, localReplicaID); ok {
		return desc
	}
	desc := wire.ReplicaDescriptor{GroupID: groupID, ReplicaID: localReplicaID, NodeID: nodeID}
	// Best-effort write-through; a failure here just means the repair is
	// retried on the next ready cycle.
	_ = c.CacheReplicaDesc(desc, true)
	return desc
}
