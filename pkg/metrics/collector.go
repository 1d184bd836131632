package metrics

import (
	"strconv"
	"time"
)

// GroupSnapshot is a point-in-time view of one Raft group's vitals, used to
// feed the Prometheus gauges without the metrics package importing the node
// actor (which would create an import cycle).
type GroupSnapshot struct {
	GroupID       uint64
	IsLeader      bool
	CommitIndex   uint64
	AppliedIndex  uint64
	ProposalQueue int
}

// StatsProvider is implemented by the node actor; the collector polls it
// periodically rather than being pushed updates, mirroring the teacher's
// collector-pulls-from-manager shape.
type StatsProvider interface {
	GroupSnapshots() []GroupSnapshot
	PeerCount() int
}

// Collector periodically samples a StatsProvider and updates gauges.
type Collector struct {
	provider StatsProvider
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider) *Collector {
	return &Collector{
		provider: provider,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snapshots := c.provider.GroupSnapshots()

	GroupsTotal.Set(float64(len(snapshots)))
	PeersTotal.Set(float64(c.provider.PeerCount()))

	for _, s := range snapshots {
		label := strconv.FormatUint(s.GroupID, 10)

		if s.IsLeader {
			RaftIsLeader.WithLabelValues(label).Set(1)
		} else {
			RaftIsLeader.WithLabelValues(label).Set(0)
		}
		RaftCommitIndex.WithLabelValues(label).Set(float64(s.CommitIndex))
		RaftAppliedIndex.WithLabelValues(label).Set(float64(s.AppliedIndex))
		ProposalQueueDepth.WithLabelValues(label).Set(float64(s.ProposalQueue))
	}
}
