package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/topology"
)

func node(name string) *topology.Node {
	return topology.NewNode(topology.OceanBase, "4.2.1", name, "10.0.0."+name, nil, nil)
}

func generated(keys ...string) map[string]bool {
	out := map[string]bool{}
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func TestConsolidate_PromotesMinimumWhenAllGenerated(t *testing.T) {
	// Given: three nodes that each got a generated memory limit
	a, b, c := node("1"), node("2"), node("3")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyMemoryLimit: 18 * capacity.GiB}, Generated: generated(topology.KeyMemoryLimit)},
		{Node: b, Delta: topology.Delta{topology.KeyMemoryLimit: 12 * capacity.GiB}, Generated: generated(topology.KeyMemoryLimit)},
		{Node: c, Delta: topology.Delta{topology.KeyMemoryLimit: 20 * capacity.GiB}, Generated: generated(topology.KeyMemoryLimit)},
	}

	// When: the deltas are consolidated
	res := Consolidate(in)

	// Then: the smallest value goes global and every node uses it
	assert.Equal(t, topology.Delta{topology.KeyMemoryLimit: 12 * capacity.GiB}, res.Global)
	assert.Empty(t, res.PerNode)
	for _, n := range []*topology.Node{a, b, c} {
		v, _, err := n.Capacity(topology.KeyMemoryLimit)
		require.NoError(t, err)
		assert.Equal(t, 12*capacity.GiB, v)
	}
}

func TestConsolidate_PromotesMaximumThreshold(t *testing.T) {
	a, b := node("1"), node("2")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyLogDiskUtilThreshold: 80}, Generated: generated(topology.KeyLogDiskUtilThreshold)},
		{Node: b, Delta: topology.Delta{topology.KeyLogDiskUtilThreshold: 72}, Generated: generated(topology.KeyLogDiskUtilThreshold)},
	}

	res := Consolidate(in)

	assert.Equal(t, 80, res.Global[topology.KeyLogDiskUtilThreshold])
	assert.Empty(t, res.PerNode)
}

func TestConsolidate_PartiallyGeneratedStaysPerNode(t *testing.T) {
	// Given: one node generated cpu_count, the other had it raised
	a, b := node("1"), node("2")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyCPUCount: 16}, Generated: generated(topology.KeyCPUCount)},
		{Node: b, Delta: topology.Delta{topology.KeyCPUCount: 16}, Generated: generated()},
	}

	res := Consolidate(in)

	// Then: even equal values are kept at node scope
	assert.Empty(t, res.Global)
	assert.Equal(t, 16, res.Node(a)[topology.KeyCPUCount])
	assert.Equal(t, 16, res.Node(b)[topology.KeyCPUCount])
}

func TestConsolidate_IdenticalValuesPromoted(t *testing.T) {
	a, b := node("1"), node("2")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyDevname: "eth0", topology.KeyRootPassword: "x"}},
		{Node: b, Delta: topology.Delta{topology.KeyDevname: "eth0", topology.KeyRootPassword: "x"}},
	}

	res := Consolidate(in)

	assert.Equal(t, topology.Delta{topology.KeyDevname: "eth0", topology.KeyRootPassword: "x"}, res.Global)
	assert.False(t, res.Empty())
	assert.Empty(t, res.PerNode)
}

func TestConsolidate_DivergenceDemotesAll(t *testing.T) {
	// Given: two of three nodes agree on a device
	a, b, c := node("1"), node("2"), node("3")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyDevname: "eth0"}},
		{Node: b, Delta: topology.Delta{topology.KeyDevname: "eth0"}},
		{Node: c, Delta: topology.Delta{topology.KeyDevname: "bond0"}},
	}

	res := Consolidate(in)

	// Then: nothing is promoted and every node keeps its own value
	assert.Empty(t, res.Global)
	assert.Equal(t, "eth0", res.Node(a)[topology.KeyDevname])
	assert.Equal(t, "eth0", res.Node(b)[topology.KeyDevname])
	assert.Equal(t, "bond0", res.Node(c)[topology.KeyDevname])
}

func TestConsolidate_MissingOnSomeNodes(t *testing.T) {
	a, b := node("1"), node("2")
	in := []NodeDelta{
		{Node: a, Delta: topology.Delta{topology.KeyDevname: "eth0"}},
		{Node: b, Delta: topology.Delta{}},
	}

	res := Consolidate(in)

	assert.Empty(t, res.Global)
	assert.Equal(t, topology.Delta{topology.KeyDevname: "eth0"}, res.Node(a))
	assert.Empty(t, res.Node(b))
}

func TestConsolidate_Empty(t *testing.T) {
	res := Consolidate(nil)
	assert.True(t, res.Empty())
}
