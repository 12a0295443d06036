package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
)

const sampleTopology = `
user:
  username: admin
  key_file: /home/admin/.ssh/id_rsa
oceanbase-ce:
  version: 4.2.1.0
  servers:
    - name: server1
      ip: 10.0.0.1
    - 10.0.0.2
  global:
    home_path: /home/admin/observer
    production_mode: false
  server1:
    memory_limit: 16G
obproxy-ce:
  version: 4.2.0
  depends:
    - oceanbase-ce
  servers:
    - 10.0.0.1
  global:
    home_path: /home/admin/obproxy
`

func TestParse_Sample(t *testing.T) {
	// Given: an operator topology with two components
	d, err := Parse([]byte(sampleTopology))
	require.NoError(t, err)

	// Then: components come in dependency order with their servers
	require.Len(t, d.Groups, 2)
	assert.Equal(t, OceanBase, d.Groups[0].Component)
	assert.Equal(t, OBProxy, d.Groups[1].Component)
	assert.Equal(t, []Component{OceanBase}, d.Groups[1].Depends)
	assert.Equal(t, "admin", d.User.Username)

	nodes := d.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "server1", nodes[0].Name)
	assert.Equal(t, "10.0.0.2", nodes[1].Name, "bare ip servers are named by ip")
	assert.True(t, d.Has(OBProxy))
	assert.False(t, d.Has(OCPExpress))
}

func TestParse_Hosts(t *testing.T) {
	d, err := Parse([]byte(sampleTopology))
	require.NoError(t, err)

	hosts := d.Hosts()
	require.Len(t, hosts, 2)
	assert.Equal(t, "10.0.0.1", hosts[0].IP)
	assert.Len(t, hosts[0].Nodes, 2)
	assert.Len(t, hosts[1].Nodes, 1)

	co := d.CoTenants(d.Nodes()[0])
	assert.Len(t, co, 2)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown component", "mysql:\n  servers: [10.0.0.1]\n"},
		{"no servers", "oceanbase-ce:\n  version: 4.2.1\n"},
		{"bad ip", "oceanbase-ce:\n  servers: [not-an-ip]\n"},
		{"duplicate name", "oceanbase-ce:\n  servers: [{name: a, ip: 10.0.0.1}, {name: a, ip: 10.0.0.2}]\n"},
		{"empty", "user:\n  username: admin\n"},
		{"not yaml", "::: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, obperrors.ErrCodeTopologyInvalid, obperrors.GetCode(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, obperrors.ErrCodeConfigNotFound, obperrors.GetCode(err))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTopology), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, d.Nodes(), 3)
}

func TestNode_ResolutionOrder(t *testing.T) {
	// Given: a key set globally, overridden on the node, and a planned key
	n := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1",
		map[string]any{KeyCPUCount: 20, KeyHomePath: "/data/ob"},
		map[string]any{KeyCPUCount: 24})
	n.Set(KeyCPUCount, 32)
	n.Set(KeySystemMemory, "4G")

	// Then: node beats global beats planned beats defaults
	v, ok := n.Int(KeyCPUCount)
	require.True(t, ok)
	assert.Equal(t, 24, v)
	assert.Equal(t, ScopeNode, n.DeclaredScope(KeyCPUCount))
	assert.Equal(t, ScopeGlobal, n.DeclaredScope(KeyHomePath))
	assert.Equal(t, ScopeNone, n.DeclaredScope(KeySystemMemory), "planned values are not declared")

	sys, ok, err := n.Capacity(KeySystemMemory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4*capacity.GiB, sys)

	pct, ok := n.Int(KeyMemoryLimitPercentage)
	require.True(t, ok)
	assert.Equal(t, 80, pct, "component default")
	assert.False(t, n.Declared(KeyMemoryLimitPercentage))
}

func TestNode_DerivedDirs(t *testing.T) {
	n := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1", map[string]any{KeyHomePath: "/home/admin/ob"}, nil)

	assert.Equal(t, "/home/admin/ob/store", n.StringValue(KeyDataDir))
	assert.Equal(t, "/home/admin/ob/store", n.StringValue(KeyRedoDir))

	n.Set(KeyRedoDir, "/redo")
	assert.Equal(t, "/redo", n.StringValue(KeyRedoDir))
}

func TestNode_ZeroCapacityIsUnset(t *testing.T) {
	n := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1", map[string]any{KeyMemoryLimit: 0}, nil)

	_, ok, err := n.Capacity(KeyMemoryLimit)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNode_PortsVersionGated(t *testing.T) {
	tests := []struct {
		version string
		want    int
	}{
		{"4.2.1.0", 2},
		{"4.2.2.0", 3},
		{"4.3.0", 3},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			n := NewNode(OceanBase, tt.version, "s1", "10.0.0.1", nil, nil)
			assert.Len(t, n.Ports(), tt.want)
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"4.2.1.0", "4.2.1"},
		{"v4.3", "4.3.0"},
		{"4.2.1-100000192024", "4.2.1"},
		{"4", "4.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v := ParseVersion(tt.in)
			require.NotNil(t, v)
			assert.Equal(t, tt.want, v.String())
		})
	}

	assert.Nil(t, ParseVersion(""))
	assert.Nil(t, ParseVersion("latest"))
}

func TestGenerated_AutoFix(t *testing.T) {
	// Given: one node with an operator memory_limit and one without
	declared := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1", nil, map[string]any{KeyMemoryLimit: "4G"})
	auto := NewNode(OceanBase, "4.2.1", "s2", "10.0.0.1", nil, nil)

	g := NewGenerated()
	g.AddNode(auto, KeyMemoryLimit, "18G")
	g.AddGlobal(OceanBase, KeySystemMemory, "9G")
	g.Freeze()

	// Then: only the undeclared node is auto-fixable
	assert.False(t, g.AutoFix(declared, KeyMemoryLimit))
	assert.True(t, g.AutoFix(auto, KeyMemoryLimit))
	assert.True(t, g.IsGenerated(auto, KeyMemoryLimit))
	assert.True(t, g.IsGenerated(declared, KeySystemMemory), "global scope covers every node")
	assert.False(t, g.AutoFix(auto), "no keys means nothing to fix")
}

func TestGenerated_Conflicting(t *testing.T) {
	n := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1", nil, nil)

	g := NewGenerated()
	g.AddGlobal(OceanBase, KeyCPUCount, 16)
	g.AddNode(n, KeyCPUCount, 24)
	g.AddGlobal(OceanBase, KeySystemMemory, "4G")
	g.AddNode(n, KeySystemMemory, "4G")

	assert.True(t, g.Conflicting(n, KeyCPUCount))
	assert.False(t, g.AutoFix(n, KeyCPUCount))
	assert.False(t, g.Conflicting(n, KeySystemMemory), "same value at both scopes")
	assert.Equal(t, 24, g.Keys(n)[KeyCPUCount])
}

func TestGenerated_FrozenRejectsWrites(t *testing.T) {
	g := NewGenerated().Freeze()
	n := NewNode(OceanBase, "4.2.1", "s1", "10.0.0.1", nil, nil)

	assert.Panics(t, func() { g.AddNode(n, KeyCPUCount, 16) })
}
