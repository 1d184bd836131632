package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/multiraft/pkg/config"
	"github.com/cuemby/multiraft/pkg/events"
	"github.com/cuemby/multiraft/pkg/log"
	"github.com/cuemby/multiraft/pkg/metrics"
	"github.com/cuemby/multiraft/pkg/multiraft"
	"github.com/cuemby/multiraft/pkg/node"
	"github.com/cuemby/multiraft/pkg/raftstorage"
	"github.com/cuemby/multiraft/pkg/replicacache"
	"github.com/cuemby/multiraft/pkg/statemachine"
	"github.com/cuemby/multiraft/pkg/tick"
	"github.com/cuemby/multiraft/pkg/transport"
	"github.com/cuemby/multiraft/pkg/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a multiraft node",
	Long: `serve opens this node's durable storage, joins the gRPC
transport to its configured peers, and hosts every group listed in the
config file — creating groups not yet seen and rediscovering ones a
prior process instance already created.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "path to the node's YAML config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, fmt.Sprintf("node-%d.db", cfg.NodeID))
	registry, err := raftstorage.OpenBoltRegistry(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer registry.Close()

	cache := replicacache.New(registry)
	kv := statemachine.NewKVStore()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	tr := transport.NewGRPC()
	if err := tr.Listen(cfg.BindAddr); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	for _, p := range cfg.Peers {
		tr.AddPeer(p.NodeID, p.Addr)
	}

	ticker := tick.NewReal(cfg.TickInterval)
	defer ticker.Stop()

	n := node.New(cfg.NodeConfig(), registry, cache, kv, tr, broker, ticker)
	n.SetLogger(log.WithNodeID(fmt.Sprintf("%d", cfg.NodeID)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr, err := multiraft.New(ctx, n)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer mr.Stop()

	existing := make(map[uint64]bool)
	for _, id := range registry.Groups() {
		existing[id] = true
	}

	for _, g := range cfg.Groups {
		replicas := make([]wire.ReplicaDescriptor, 0, len(g.Replicas))
		for _, r := range g.Replicas {
			replicas = append(replicas, wire.ReplicaDescriptor{GroupID: g.GroupID, ReplicaID: r.ReplicaID, NodeID: r.NodeID})
		}

		if existing[g.GroupID] {
			if err := mr.LoadGroup(g.GroupID, g.ReplicaID, replicas); err != nil {
				return fmt.Errorf("load group %d: %w", g.GroupID, err)
			}
			log.Logger.Info().Uint64("group_id", g.GroupID).Msg("group rediscovered")
			continue
		}

		confState := confStateFromVoters(g.Voters)
		if err := mr.CreateGroup(g.GroupID, g.ReplicaID, confState, replicas); err != nil {
			return fmt.Errorf("create group %d: %w", g.GroupID, err)
		}
		log.Logger.Info().Uint64("group_id", g.GroupID).Msg("group created")
	}

	collector := metrics.NewCollector(n)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer server.Close()

	log.Logger.Info().Str("bind_addr", cfg.BindAddr).Str("metrics_addr", cfg.MetricsAddr).Msg("multiraftd serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Logger.Info().Msg("shutting down")
	return nil
}
