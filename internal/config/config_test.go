package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUsesFlagWhenExplicit(t *testing.T) {
	cfg, err := Resolve(Flags{
		NodeID:            "node2",
		ReplicationFactor: 3,
		Explicit:          map[string]bool{"id": true, "n": true},
	})
	require.NoError(t, err)
	require.Equal(t, "node2", cfg.NodeID)
	require.Equal(t, 3, cfg.ReplicationFactor)
}

func TestResolveFallsBackToDefaultWhenNothingSet(t *testing.T) {
	cfg, err := Resolve(Flags{})
	require.NoError(t, err)
	require.Equal(t, "node1", cfg.NodeID)
	require.Equal(t, 1, cfg.ReplicationFactor)
	require.Equal(t, ":8080", cfg.ListenAddr)
}

func TestResolveEnvVarOverridesExplicitFlag(t *testing.T) {
	os.Setenv("BOOKCLUSTER_NODE_ID", "from-env")
	defer os.Unsetenv("BOOKCLUSTER_NODE_ID")

	cfg, err := Resolve(Flags{NodeID: "from-flag", Explicit: map[string]bool{"id": true}})
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.NodeID)
}

func TestResolveSplitsListFields(t *testing.T) {
	cfg, err := Resolve(Flags{
		Peers:        "nodeA=host1:8080, nodeB=host2:8080",
		IndexMembers: "nodeA=host1:9000,nodeB=host2:9000",
		Explicit:     map[string]bool{"peers": true, "index-members": true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"nodeA=host1:8080", "nodeB=host2:8080"}, cfg.DatalakePeers)
	require.Equal(t, []string{"nodeA=host1:9000", "nodeB=host2:9000"}, cfg.IndexMembers)
}

func TestResolveRejectsEmptyNodeID(t *testing.T) {
	_, err := Resolve(Flags{NodeID: "", Explicit: map[string]bool{"id": true}})
	require.Error(t, err)
}
