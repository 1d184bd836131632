package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.etcd.io/raft/v3/raftpb"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/multiraft/pkg/config"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Print a starter config for a single-voter group on this node",
	Long: `bootstrap writes a YAML config file for the first node of a new
cluster: one group whose sole voter is this node. Additional nodes join
the group later via a membership-change proposal once the node started
from this config is reachable (see pkg/multiraft's Membership call).`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().Uint64("node-id", 1, "this node's id")
	bootstrapCmd.Flags().Uint64("group-id", 1, "id of the initial group")
	bootstrapCmd.Flags().String("bind-addr", "127.0.0.1:7946", "address for Raft/transport traffic")
	bootstrapCmd.Flags().String("data-dir", "./multiraft-data", "data directory for durable storage")
	bootstrapCmd.Flags().StringP("out", "o", "", "write the config to this file instead of stdout")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetUint64("node-id")
	groupID, _ := cmd.Flags().GetUint64("group-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	out, _ := cmd.Flags().GetString("out")

	cfg := config.Default(nodeID)
	cfg.BindAddr = bindAddr
	cfg.DataDir = dataDir
	cfg.Groups = []config.GroupSpec{{
		GroupID:   groupID,
		ReplicaID: 1,
		Voters:    []uint64{1},
		Replicas:  []config.ReplicaSpec{{ReplicaID: 1, NodeID: nodeID}},
	}}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if out == "" {
		fmt.Print(string(data))
		return nil
	}
	return os.WriteFile(out, data, 0o644)
}

// confStateFromVoters builds the ConfState a group is created with from
// the plain voter-id list a config.GroupSpec carries.
func confStateFromVoters(voters []uint64) raftpb.ConfState {
	return raftpb.ConfState{Voters: voters}
}
