package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: 1
bindAddr: 127.0.0.1:7946
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, uint64(1), cfg.NodeID)
	require.Equal(t, "127.0.0.1:7946", cfg.BindAddr)
	require.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	require.Equal(t, 10, cfg.ElectionTick)
	require.Equal(t, 1, cfg.HeartbeatTick)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadParsesGroupsAndPeers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: 1
bindAddr: 127.0.0.1:7946
peers:
  - nodeId: 2
    addr: 127.0.0.1:7947
  - nodeId: 3
    addr: 127.0.0.1:7948
groups:
  - groupId: 1
    replicaId: 1
    voters: [1, 2, 3]
    replicas:
      - replicaId: 1
        nodeId: 1
      - replicaId: 2
        nodeId: 2
      - replicaId: 3
        nodeId: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Peers, 2)
	require.Equal(t, uint64(2), cfg.Peers[0].NodeID)

	require.Len(t, cfg.Groups, 1)
	g := cfg.Groups[0]
	require.Equal(t, uint64(1), g.GroupID)
	require.Equal(t, []uint64{1, 2, 3}, g.Voters)
	require.Len(t, g.Replicas, 3)
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bindAddr: 127.0.0.1:7946
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsGroupMissingOwnReplicaID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: 1
bindAddr: 127.0.0.1:7946
groups:
  - groupId: 1
    voters: [1]
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNodeConfigAdaptsFields(t *testing.T) {
	cfg := Default(5)
	cfg.ElectionTick = 20
	cfg.HeartbeatTick = 2

	nc := cfg.NodeConfig()
	require.Equal(t, uint64(5), nc.NodeID)
	require.Equal(t, 20, nc.GroupConfig.ElectionTick)
	require.Equal(t, 2, nc.GroupConfig.HeartbeatTick)
}
