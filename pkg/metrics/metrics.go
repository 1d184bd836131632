package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node-level metrics
	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "multiraft_groups_total",
			Help: "Total number of Raft groups hosted on this node",
		},
	)

	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "multiraft_peers_total",
			Help: "Total number of distinct peer nodes known to the fan-out map",
		},
	)

	// Per-group leadership and log metrics
	RaftIsLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiraft_group_is_leader",
			Help: "Whether this replica is the Raft leader for the group (1 = leader, 0 = follower)",
		},
		[]string{"group_id"},
	)

	RaftCommitIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiraft_group_commit_index",
			Help: "Current Raft commit index by group",
		},
		[]string{"group_id"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiraft_group_applied_index",
			Help: "Last applied Raft log index by group",
		},
		[]string{"group_id"},
	)

	// Ready-cycle metrics
	ReadyCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiraft_ready_cycles_total",
			Help: "Total number of ready cycles driven to completion by group",
		},
		[]string{"group_id"},
	)

	ReadyCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "multiraft_ready_cycle_duration_seconds",
			Help:    "Time taken to drive one handle_ready/handle_write/handle_light_ready cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Proposal and apply metrics
	ProposalQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiraft_proposal_queue_depth",
			Help: "Number of pending proposals awaiting apply by group",
		},
		[]string{"group_id"},
	)

	ProposalsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiraft_proposals_resolved_total",
			Help: "Total proposals resolved by outcome (applied, stale, not_leader, deleted)",
		},
		[]string{"outcome"},
	)

	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "multiraft_apply_duration_seconds",
			Help:    "Time taken for one state-machine apply call",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApplyBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "multiraft_apply_batch_entries",
			Help:    "Number of entries carried in one apply batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// Transport / heartbeat metrics
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiraft_messages_sent_total",
			Help: "Total outbound Raft messages sent by type",
		},
		[]string{"type"},
	)

	CoalescedHeartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "multiraft_coalesced_heartbeats_sent_total",
			Help: "Total coalesced (group_id=0) heartbeats sent to peers",
		},
	)

	HeartbeatFanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "multiraft_heartbeat_fanout_groups",
			Help:    "Number of groups a single coalesced heartbeat was fanned out to on receipt",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1024},
		},
	)

	// Leader election events
	LeaderElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiraft_leader_elections_total",
			Help: "Total leader-election events observed by group",
		},
		[]string{"group_id"},
	)
)

func init() {
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(ReadyCyclesTotal)
	prometheus.MustRegister(ReadyCycleDuration)
	prometheus.MustRegister(ProposalQueueDepth)
	prometheus.MustRegister(ProposalsResolvedTotal)
	prometheus.MustRegister(ApplyDuration)
	prometheus.MustRegister(ApplyBatchSize)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(CoalescedHeartbeatsSentTotal)
	prometheus.MustRegister(HeartbeatFanoutSize)
	prometheus.MustRegister(LeaderElectionsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
