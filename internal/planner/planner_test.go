package planner

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

const G = capacity.GiB

type staticMounts map[string]probe.Mount

func (s staticMounts) ResolveMount(_ context.Context, _ string, dir string) (probe.Mount, error) {
	best := ""
	for p := range s {
		if (dir == p || strings.HasPrefix(dir, strings.TrimSuffix(p, "/")+"/")) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return probe.Mount{}, fmt.Errorf("no mount for %s", dir)
	}
	return s[best], nil
}

type pinger map[string]bool

func (p pinger) Ping(_ context.Context, _, dev, _ string) bool {
	return p[dev]
}

func facts(ip string, total, available capacity.Bytes, cores int) *probe.Facts {
	f := probe.NewFacts(ip)
	f.Memory = &probe.Memory{Total: total, Available: available, Free: available}
	f.CPUCores = cores
	f.Devices = []string{"eth0", "lo"}
	return f
}

func observer(name string, local map[string]any) *topology.Node {
	return topology.NewNode(topology.OceanBase, "4.2.1", name, "10.0.0.1",
		map[string]any{topology.KeyHomePath: "/data/" + name}, local)
}

func request(n *topology.Node, f *probe.Facts, co ...*topology.Node) Request {
	return Request{Node: n, Facts: f, CoTenants: append([]*topology.Node{n}, co...)}
}

func fatal(r *Result, item string) *Diagnostic {
	for i, d := range r.Diagnostics {
		if d.Item == item && d.Fatal {
			return &r.Diagnostics[i]
		}
	}
	return nil
}

func TestPlan_MemoryFromAvailable(t *testing.T) {
	// Given: a 32G host with 20G available and no memory declared
	n := observer("a", nil)
	p := New(WithPinger(pinger{"eth0": true}))

	// When: the node is planned
	r, err := p.Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)

	// Then: 90% of the available memory and half of that for the system
	assert.False(t, r.Failed())
	assert.Equal(t, 18*G, r.Delta[topology.KeyMemoryLimit])
	assert.Equal(t, 9*G, r.Delta[topology.KeySystemMemory])
	assert.Equal(t, 16, r.Delta[topology.KeyCPUCount])
	assert.Equal(t, "eth0", r.Delta[topology.KeyDevname])
	assert.True(t, r.Generated[topology.KeyMemoryLimit])

	limit, ok, err := n.Capacity(topology.KeyMemoryLimit)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 18*G, limit, "planned values are applied to the node")
}

func TestPlan_SharesMemoryBetweenCoTenants(t *testing.T) {
	// Given: two auto-sized observers and a proxy with its default 2G
	a := observer("a", nil)
	b := observer("b", nil)
	proxy := topology.NewNode(topology.OBProxy, "4.2.0", "p", "10.0.0.1", nil, nil)
	f := facts("10.0.0.1", 64*G, 42*G, 32)

	r, err := New().Plan(context.Background(), request(a, f, b, proxy))
	require.NoError(t, err)

	// Then: each observer sizes against half of what the proxy leaves
	assert.Equal(t, (20 * G).Mul(0.9).RoundDown(capacity.MiB), r.Delta[topology.KeyMemoryLimit])
}

func TestPlan_DeclaredValuesWin(t *testing.T) {
	n := observer("a", map[string]any{
		topology.KeyMemoryLimit:  "12G",
		topology.KeySystemMemory: "2G",
		topology.KeyDevname:      "bond0",
	})

	r, err := New().Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)

	assert.NotContains(t, r.Delta, topology.KeyMemoryLimit)
	assert.NotContains(t, r.Delta, topology.KeySystemMemory)
	assert.NotContains(t, r.Delta, topology.KeyDevname)
}

func TestPlan_CPUCount(t *testing.T) {
	tests := []struct {
		name      string
		local     map[string]any
		cores     int
		want      int
		generated bool
	}{
		{name: "small host", cores: 8, want: 16, generated: true},
		{name: "large host", cores: 64, want: 62, generated: true},
		{name: "declared below minimum", local: map[string]any{topology.KeyCPUCount: 8}, cores: 64, want: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := observer("a", tt.local)
			r, err := New().Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, tt.cores)))
			require.NoError(t, err)

			assert.Equal(t, tt.want, r.Delta[topology.KeyCPUCount])
			assert.Equal(t, tt.generated, r.Generated[topology.KeyCPUCount])
			got, _ := n.Int(topology.KeyCPUCount)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("declared above minimum is kept", func(t *testing.T) {
		n := observer("a", map[string]any{topology.KeyCPUCount: 24})
		r, err := New().Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 64)))
		require.NoError(t, err)
		assert.NotContains(t, r.Delta, topology.KeyCPUCount)
	})
}

func TestPlan_Devname(t *testing.T) {
	t.Run("local host uses loopback", func(t *testing.T) {
		n := observer("a", nil)
		p := New(WithLocality(func(ip string) bool { return ip == "10.0.0.1" }))
		r, err := p.Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
		require.NoError(t, err)
		assert.Equal(t, "lo", r.Delta[topology.KeyDevname])
	})

	t.Run("first device that reaches the ip", func(t *testing.T) {
		n := observer("a", nil)
		f := facts("10.0.0.1", 32*G, 20*G, 8)
		f.Devices = []string{"eth1", "lo", "eth0"}
		r, err := New(WithPinger(pinger{"eth1": true})).Plan(context.Background(), request(n, f))
		require.NoError(t, err)
		assert.Equal(t, "eth1", r.Delta[topology.KeyDevname])
	})

	t.Run("no device reaches the ip", func(t *testing.T) {
		n := observer("a", nil)
		r, err := New(WithPinger(pinger{})).Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
		require.NoError(t, err)

		d := fatal(r, ItemNet)
		require.NotNil(t, d)
		assert.Equal(t, obperrors.ErrCodeDeviceNotFound, d.Err.Code)
		assert.Equal(t, []string{topology.KeyDevname}, d.Keys)
	})

	t.Run("degraded network facts warn", func(t *testing.T) {
		n := observer("a", nil)
		f := facts("10.0.0.1", 32*G, 20*G, 8)
		f.Degrade(probe.FactNet, fmt.Errorf("ip: command not found"))
		r, err := New(WithPinger(pinger{"eth0": true})).Plan(context.Background(), request(n, f))
		require.NoError(t, err)

		assert.False(t, r.Failed())
		require.Len(t, r.Diagnostics, 1)
		assert.Equal(t, obperrors.ErrCodeFactUnavailable, r.Diagnostics[0].Err.Code)
	})
}

func TestPlan_MemoryFloorInfeasible(t *testing.T) {
	// Given: a production node on a host with 12G usable
	n := observer("a", nil)
	r, err := New(WithProduction(true)).Plan(context.Background(), request(n, facts("10.0.0.1", 16*G, 12*G, 8)))
	require.NoError(t, err)

	// Then: the 16G floor cannot be honored and nothing is invented
	d := fatal(r, ItemMem)
	require.NotNil(t, d)
	assert.Equal(t, obperrors.ErrCodeMemoryInfeasible, d.Err.Code)
	assert.NotContains(t, r.Delta, topology.KeyMemoryLimit)
	assert.NotContains(t, r.Delta, topology.KeySystemMemory)
}

func TestPlan_BelowStartupMinimum(t *testing.T) {
	n := observer("a", nil)
	r, err := New().Plan(context.Background(), request(n, facts("10.0.0.1", 4*G, 2*G, 8)))
	require.NoError(t, err)

	d := fatal(r, ItemMem)
	require.NotNil(t, d)
	assert.Equal(t, obperrors.ErrCodeMemoryNotEnough, d.Err.Code)
}

func TestPlan_MissingMemoryFacts(t *testing.T) {
	n := observer("a", nil)
	f := probe.NewFacts("10.0.0.1")
	f.Degrade(probe.FactMemory, fmt.Errorf("permission denied"))

	r, err := New().Plan(context.Background(), request(n, f))
	require.NoError(t, err)

	assert.False(t, r.Failed())
	assert.NotContains(t, r.Delta, topology.KeyMemoryLimit)
	require.NotEmpty(t, r.Diagnostics)
	assert.Equal(t, ItemMem, r.Diagnostics[len(r.Diagnostics)-1].Item)
}

func TestPlan_DiskShrinksAutoMemory(t *testing.T) {
	// Given: a 100G mount with 10G used holding data and log
	mounts := staticMounts{"/data": {Path: "/data", Total: 100 * G, Used: 10 * G, Avail: 90 * G}}
	n := observer("a", nil)

	// When: 18G of memory would need 131G of disk
	r, err := New(WithMounts(mounts)).Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)
	require.False(t, r.Failed())

	// Then: memory shrinks so log and data fit next to 5G of padding, and
	// the data file takes the disk total less the log and what is used
	mem := (85 * G / 7).RoundDown(capacity.MiB)
	assert.Equal(t, mem, r.Delta[topology.KeyMemoryLimit])
	assert.Equal(t, 4*mem, r.Delta[topology.KeyLogDiskSize])
	assert.Equal(t, 100*G-4*mem-10*G, r.Delta[topology.KeyDatafileSize])
	assert.Equal(t, mem.Percent(50).RoundDown(capacity.MiB), r.Delta[topology.KeySystemMemory])
	assert.Equal(t, 80, r.Delta[topology.KeyLogDiskUtilThreshold])
	assert.Equal(t, 94, r.Delta[topology.KeyDataDiskUsageLimit])
}

func TestPlan_DiskFitsWithoutShrinking(t *testing.T) {
	mounts := staticMounts{"/data": {Path: "/data", Total: 500 * G, Used: 10 * G, Avail: 490 * G}}
	n := observer("a", nil)

	r, err := New(WithMounts(mounts)).Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)

	assert.Equal(t, 18*G, r.Delta[topology.KeyMemoryLimit])
	assert.Equal(t, 72*G, r.Delta[topology.KeyLogDiskSize])
	assert.Equal(t, 500*G-72*G-10*G, r.Delta[topology.KeyDatafileSize])
}

func TestPlan_DiskTooSmallForDeclaredMemory(t *testing.T) {
	// Given: the same 90G free but memory pinned at 16G
	mounts := staticMounts{"/data": {Path: "/data", Total: 100 * G, Used: 10 * G, Avail: 90 * G}}
	n := observer("a", map[string]any{topology.KeyMemoryLimit: "16G"})

	r, err := New(WithMounts(mounts)).Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)

	// Then: 117G cannot fit and the disk item fails
	d := fatal(r, ItemDisk)
	require.NotNil(t, d)
	assert.Equal(t, obperrors.ErrCodeDiskNotEnough, d.Err.Code)
	assert.NotContains(t, r.Delta, topology.KeyDatafileSize)
	assert.NotContains(t, r.Delta, topology.KeyLogDiskSize)
}

func TestPlan_SplitMounts(t *testing.T) {
	mounts := staticMounts{
		"/data": {Path: "/data", Total: 200 * G, Avail: 200 * G},
		"/redo": {Path: "/redo", Total: 40 * G, Avail: 40 * G},
	}
	n := observer("a", map[string]any{topology.KeyDataDir: "/data/a", topology.KeyRedoDir: "/redo/a"})

	r, err := New(WithMounts(mounts)).Plan(context.Background(), request(n, facts("10.0.0.1", 32*G, 20*G, 8)))
	require.NoError(t, err)
	require.False(t, r.Failed())

	// Then: data takes 64% of its mount and memory shrinks to a quarter of
	// the log mount
	assert.Equal(t, (200 * G).Mul(0.64).RoundDown(capacity.MiB), r.Delta[topology.KeyDatafileSize])
	assert.Equal(t, 10*G, r.Delta[topology.KeyMemoryLimit])
	assert.Equal(t, 40*G, r.Delta[topology.KeyLogDiskSize])
}

func TestPlan_SharedMountSplitsBetweenNodes(t *testing.T) {
	mounts := staticMounts{"/data": {Path: "/data", Total: 1000 * G, Avail: 1000 * G}}
	a := observer("a", nil)
	b := observer("b", nil)
	f := facts("10.0.0.1", 64*G, 40*G, 8)

	r, err := New(WithMounts(mounts)).Plan(context.Background(), request(a, f, b))
	require.NoError(t, err)

	assert.Equal(t, 18*G, r.Delta[topology.KeyMemoryLimit])
	assert.Equal(t, 500*G-72*G, r.Delta[topology.KeyDatafileSize])
}

func TestPlan_SharedMountLeavesDeclaredDisk(t *testing.T) {
	// Given: a 500G mount shared by a fully sized node and an auto node
	mounts := staticMounts{"/": {Path: "/", Total: 500 * G, Avail: 500 * G}}
	sized := observer("a", map[string]any{
		topology.KeyMemoryLimit:  "16G",
		topology.KeyDatafileSize: "300G",
		topology.KeyLogDiskSize:  "100G",
	})
	auto := observer("b", nil)
	f := facts("10.0.0.1", 64*G, 60*G, 8)
	p := New(WithMounts(mounts))

	// When: both nodes are planned
	rs, err := p.Plan(context.Background(), request(sized, f, auto))
	require.NoError(t, err)
	ra, err := p.Plan(context.Background(), request(auto, f, sized))
	require.NoError(t, err)

	// Then: the sized node is left alone
	assert.False(t, rs.Failed())
	assert.NotContains(t, rs.Delta, topology.KeyDatafileSize)
	assert.NotContains(t, rs.Delta, topology.KeyLogDiskSize)

	// And: the auto node fits in the 100G the sized node leaves
	require.False(t, ra.Failed())
	mem := ((100*G - 13*G) / 7).RoundDown(capacity.MiB)
	assert.Equal(t, mem, ra.Delta[topology.KeyMemoryLimit])
	data := ra.Delta[topology.KeyDatafileSize].(capacity.Bytes)
	logDisk := ra.Delta[topology.KeyLogDiskSize].(capacity.Bytes)
	assert.Equal(t, 4*mem, logDisk)
	assert.Equal(t, 100*G-4*mem, data)
	assert.LessOrEqual(t, int64(300*G+100*G+data+logDisk), int64(500*G))
}

func TestPlan_SkipsOtherComponents(t *testing.T) {
	proxy := topology.NewNode(topology.OBProxy, "4.2.0", "p", "10.0.0.1", nil, nil)
	r, err := New().Plan(context.Background(), Request{Node: proxy})
	require.NoError(t, err)
	assert.Empty(t, r.Delta)
}

func TestPlan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithPinger(pinger{})).Plan(ctx, request(observer("a", nil), facts("10.0.0.1", 32*G, 20*G, 8)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSizing_SystemMemory(t *testing.T) {
	s := DefaultSizing()
	tests := []struct {
		limit capacity.Bytes
		want  capacity.Bytes
	}{
		{limit: 18 * G, want: 9 * G},
		{limit: 100 * G, want: 40 * G},
		{limit: 200 * G, want: 60 * G},
		{limit: 6 * G, want: 4 * G},
		{limit: 4 * G, want: 2 * G},
	}
	for _, tt := range tests {
		t.Run(tt.limit.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, s.SystemMemory(tt.limit))
		})
	}
}

func TestSizing_Floor(t *testing.T) {
	s := DefaultSizing()
	assert.Equal(t, 8*G, s.Floor(false, 0))
	assert.Equal(t, 16*G, s.Floor(true, 0))
	assert.Equal(t, 4*G, s.Floor(false, 4*G))
	assert.Equal(t, 32*G, s.Floor(true, 32*G))
}

const fullTopology = `
oceanbase-ce:
  version: 4.2.1
  servers: [10.0.0.1]
  global:
    home_path: /data/ob
obproxy-ce:
  version: 4.2.0
  servers: [10.0.0.1]
  global:
    home_path: /data/proxy
obagent:
  version: 4.2.0
  servers: [10.0.0.1]
  global:
    home_path: /data/agent
    monitor_password: operator-secret
ocp-express:
  version: 4.2.1
  servers: [10.0.0.1]
  global:
    home_path: /data/ocp
`

func TestGenerateCredentials(t *testing.T) {
	d, err := topology.Parse([]byte(fullTopology))
	require.NoError(t, err)

	creds, err := GenerateCredentials(d, rand.Reader, 20)
	require.NoError(t, err)

	ob := creds[topology.OceanBase]
	require.NotNil(t, ob)
	assert.Len(t, ob[topology.KeyRootPassword], 20)

	// Then: paired keys carry the same secret
	assert.Equal(t, ob[topology.KeyProxyroPassword], creds[topology.OBProxy][topology.KeyObserverSysPassword])
	assert.NotEmpty(t, creds[topology.OBProxy][topology.KeyObproxySysPassword])
	assert.NotEmpty(t, creds[topology.OCPExpress][topology.KeyOCPMetaPassword])

	// And: a declared side is reused rather than regenerated
	assert.Equal(t, "operator-secret", ob[topology.KeyAgentMonitorPassword])
	assert.NotContains(t, creds, topology.OBAgent)
}

func TestGenerateCredentials_OnlyWhatIsPresent(t *testing.T) {
	d, err := topology.Parse([]byte(`
oceanbase-ce:
  version: 4.2.1
  servers: [10.0.0.1]
  global:
    home_path: /data/ob
`))
	require.NoError(t, err)

	creds, err := GenerateCredentials(d, rand.Reader, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{topology.KeyRootPassword}, creds[topology.OceanBase].Keys())
}

func TestPassword(t *testing.T) {
	pw, err := Password(rand.Reader, 20)
	require.NoError(t, err)
	assert.Len(t, pw, 20)
	for _, class := range []string{lowers, uppers, digits, symbols} {
		n := 0
		for _, c := range pw {
			if strings.ContainsRune(class, c) {
				n++
			}
		}
		assert.GreaterOrEqual(t, n, 2, "class %q", class)
	}

	_, err = Password(rand.Reader, 4)
	assert.Error(t, err)

	_, err = Password(bytes.NewReader(nil), 20)
	assert.Error(t, err)
}
