package resource

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// staticMounts resolves every directory with a longest-prefix match.
type staticMounts map[string]probe.Mount

func (s staticMounts) ResolveMount(_ context.Context, _ string, dir string) (probe.Mount, error) {
	best := ""
	for p := range s {
		if (dir == p || len(dir) > len(p) && dir[:len(p)] == p && (p == "/" || dir[len(p)] == '/')) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return probe.Mount{}, fmt.Errorf("no mount for %s", dir)
	}
	return s[best], nil
}

func hostFacts(ip string, total capacity.Bytes) *probe.Facts {
	f := probe.NewFacts(ip)
	f.Memory = &probe.Memory{Total: total, Available: total, Free: total}
	return f
}

func obNode(name, ip string, local map[string]any) *topology.Node {
	return topology.NewNode(topology.OceanBase, "4.2.1", name, ip,
		map[string]any{topology.KeyHomePath: "/data/" + name}, local)
}

func TestAggregate_SharedIPSumsPercentages(t *testing.T) {
	// Given: two nodes on one 64 GiB host, both on the default 80%
	a := obNode("a", "10.0.0.1", nil)
	b := obNode("b", "10.0.0.1", nil)
	facts := map[string]*probe.Facts{"10.0.0.1": hostFacts("10.0.0.1", 64*capacity.GiB)}

	// When: requirements are aggregated
	tbl, err := Aggregate(context.Background(), []*topology.Node{a, b}, facts, nil)
	require.NoError(t, err)

	// Then: each resolves against the same unshrunk total and they sum
	perNode := (64 * capacity.GiB).Percent(80)
	assert.Equal(t, 2*perNode, tbl.Memory("10.0.0.1"))
	assert.Len(t, tbl.MemoryContributions("10.0.0.1"), 2)
	assert.Equal(t, 2, tbl.NodesOn("10.0.0.1"))
}

func TestAggregate_MixedMemoryComponents(t *testing.T) {
	// Given: an observer with an absolute limit and a proxy on the same host
	ob := obNode("a", "10.0.0.1", map[string]any{topology.KeyMemoryLimit: "16G"})
	proxy := topology.NewNode(topology.OBProxy, "4.2.0", "p", "10.0.0.1", nil, nil)
	agent := topology.NewNode(topology.OBAgent, "4.2.0", "g", "10.0.0.1", nil, nil)
	facts := map[string]*probe.Facts{"10.0.0.1": hostFacts("10.0.0.1", 64*capacity.GiB)}

	tbl, err := Aggregate(context.Background(), []*topology.Node{ob, proxy, agent}, facts, nil)
	require.NoError(t, err)

	// Then: proxy memory folds into the host demand, the agent adds nothing
	assert.Equal(t, 18*capacity.GiB, tbl.Memory("10.0.0.1"))
	assert.Equal(t, 3, tbl.NodesOn("10.0.0.1"))
}

func TestAggregate_UnknownTotalSkipsPercentage(t *testing.T) {
	a := obNode("a", "10.0.0.1", nil)

	tbl, err := Aggregate(context.Background(), []*topology.Node{a}, map[string]*probe.Facts{}, nil)
	require.NoError(t, err)
	assert.Zero(t, tbl.Memory("10.0.0.1"))
}

func TestAggregate_DiskOnSharedMount(t *testing.T) {
	// Given: two nodes whose data and log all live on /data
	mounts := staticMounts{
		"/":     {Path: "/", Total: 50 * capacity.GiB},
		"/data": {Path: "/data", Total: 100 * capacity.GiB},
	}
	a := obNode("a", "10.0.0.1", map[string]any{topology.KeyDatafileSize: "20G"})
	b := obNode("b", "10.0.0.1", nil)

	tbl, err := Aggregate(context.Background(), []*topology.Node{a, b}, nil, mounts)
	require.NoError(t, err)

	// Then: absolute and percentage requirements each resolve against the
	// mount total and land on one key
	key := DiskKey{IP: "10.0.0.1", Mount: "/data"}
	require.Equal(t, []DiskKey{key}, tbl.DiskKeys())
	want := 20*capacity.GiB + // a datafile
		30*capacity.GiB + // a log 30%
		60*capacity.GiB + // b datafile 60%
		30*capacity.GiB // b log 30%
	assert.Equal(t, want, tbl.Disk(key))

	nd, ok := tbl.NodeDisk(a)
	require.True(t, ok)
	assert.True(t, nd.Shared())
	assert.Equal(t, 20*capacity.GiB, nd.DataReq)
}

func TestAggregate_SplitMounts(t *testing.T) {
	mounts := staticMounts{
		"/data": {Path: "/data", Total: 100 * capacity.GiB},
		"/redo": {Path: "/redo", Total: 40 * capacity.GiB},
	}
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1",
		map[string]any{topology.KeyDataDir: "/data/ob", topology.KeyRedoDir: "/redo/ob"}, nil)

	tbl, err := Aggregate(context.Background(), []*topology.Node{n}, nil, mounts)
	require.NoError(t, err)

	nd, ok := tbl.NodeDisk(n)
	require.True(t, ok)
	assert.False(t, nd.Shared())
	assert.Equal(t, 60*capacity.GiB, tbl.Disk(nd.Data))
	assert.Equal(t, 12*capacity.GiB, tbl.Disk(nd.Log))
}

func TestAggregate_UnresolvedDisk(t *testing.T) {
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)

	tbl, err := Aggregate(context.Background(), []*topology.Node{n}, nil, staticMounts{})
	require.NoError(t, err)

	assert.Error(t, tbl.Unresolved(n))
	_, ok := tbl.NodeDisk(n)
	assert.False(t, ok)
}

func TestAggregate_Ports(t *testing.T) {
	a := obNode("a", "10.0.0.1", nil)
	b := obNode("b", "10.0.0.1", map[string]any{topology.KeyMySQLPort: 3881, topology.KeyRPCPort: 3882})
	c := obNode("c", "10.0.0.2", nil)

	tbl, err := Aggregate(context.Background(), []*topology.Node{a, b, c}, nil, nil)
	require.NoError(t, err)

	ports := tbl.Ports("10.0.0.1")
	assert.Len(t, ports[2881], 1)
	assert.Len(t, ports[3881], 1)
	assert.Len(t, tbl.Ports("10.0.0.2")[2881], 1)
}

func TestAggregate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Aggregate(ctx, []*topology.Node{obNode("a", "10.0.0.1", nil)}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
