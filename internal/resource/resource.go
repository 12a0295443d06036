// Package resource aggregates what every node needs from the machines it
// shares. Memory and ports are keyed by host IP; disk is keyed by the mount
// point a directory resolves to on that host, so co-located directories add
// up on the filesystem they really live on.
package resource

import (
	"context"
	"fmt"
	"sort"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// MountResolver maps a directory on a host to its filesystem.
type MountResolver interface {
	ResolveMount(ctx context.Context, ip, dir string) (probe.Mount, error)
}

// DiskKey identifies one filesystem on one host.
type DiskKey struct {
	IP    string
	Mount string
}

func (k DiskKey) String() string {
	return k.IP + ":" + k.Mount
}

// Contribution is one node's share of a shared resource.
type Contribution struct {
	Node  *topology.Node
	Key   string
	Bytes capacity.Bytes
}

// NodeDisk is where a node's data and log live.
type NodeDisk struct {
	Data    DiskKey
	Log     DiskKey
	DataReq capacity.Bytes
	LogReq  capacity.Bytes
}

// Shared reports whether data and log sit on one filesystem.
func (d NodeDisk) Shared() bool {
	return d.Data == d.Log
}

// Table is the requirement table for one pass. It is built once by
// Aggregate and only read afterwards.
type Table struct {
	memory     map[string][]Contribution
	disk       map[DiskKey][]Contribution
	mounts     map[DiskKey]probe.Mount
	ports      map[string]map[int][]*topology.Node
	nodesPerIP map[string]int
	nodeDisk   map[string]NodeDisk
	unresolved map[string]error
}

func newTable() *Table {
	return &Table{
		memory:     map[string][]Contribution{},
		disk:       map[DiskKey][]Contribution{},
		mounts:     map[DiskKey]probe.Mount{},
		ports:      map[string]map[int][]*topology.Node{},
		nodesPerIP: map[string]int{},
		nodeDisk:   map[string]NodeDisk{},
		unresolved: map[string]error{},
	}
}

// Memory returns the summed memory demand on ip.
func (t *Table) Memory(ip string) capacity.Bytes {
	return sum(t.memory[ip])
}

// MemoryContributions returns the per-node memory demand on ip.
func (t *Table) MemoryContributions(ip string) []Contribution {
	return t.memory[ip]
}

// Disk returns the summed demand on one filesystem.
func (t *Table) Disk(k DiskKey) capacity.Bytes {
	return sum(t.disk[k])
}

// DiskContributions returns the per-node demand on one filesystem.
func (t *Table) DiskContributions(k DiskKey) []Contribution {
	return t.disk[k]
}

// DiskKeys returns every filesystem with demand, sorted.
func (t *Table) DiskKeys() []DiskKey {
	keys := make([]DiskKey, 0, len(t.disk))
	for k := range t.disk {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Mount returns the probed filesystem behind k.
func (t *Table) Mount(k DiskKey) (probe.Mount, bool) {
	m, ok := t.mounts[k]
	return m, ok
}

// NodeDisk returns where n's data and log live.
func (t *Table) NodeDisk(n *topology.Node) (NodeDisk, bool) {
	d, ok := t.nodeDisk[n.ID()]
	return d, ok
}

// Unresolved returns the error that kept n's disk demand out of the table.
func (t *Table) Unresolved(n *topology.Node) error {
	return t.unresolved[n.ID()]
}

// Ports returns the nodes claiming each port on ip.
func (t *Table) Ports(ip string) map[int][]*topology.Node {
	return t.ports[ip]
}

// NodesOn returns how many nodes run on ip.
func (t *Table) NodesOn(ip string) int {
	return t.nodesPerIP[ip]
}

func sum(cs []Contribution) capacity.Bytes {
	var total capacity.Bytes
	for _, c := range cs {
		total += c.Bytes
	}
	return total
}

// MemoryDemand resolves the memory a node will claim. Percentages resolve
// against the host total. ok is false when the node claims no memory or the
// total needed for a percentage is unknown.
func MemoryDemand(n *topology.Node, hostTotal capacity.Bytes) (capacity.Bytes, bool, error) {
	spec := n.Spec()
	if spec == nil || spec.MemoryKey == "" {
		return 0, false, nil
	}
	b, ok, err := n.Capacity(spec.MemoryKey)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return b, true, nil
	}
	if n.Component != topology.OceanBase {
		return 0, false, nil
	}
	pct, ok := n.Int(topology.KeyMemoryLimitPercentage)
	if !ok || pct <= 0 || hostTotal <= 0 {
		return 0, false, nil
	}
	return hostTotal.Percent(pct), true, nil
}

// DiskDemand resolves one absolute-or-percentage disk parameter pair against
// the mount total.
func DiskDemand(n *topology.Node, sizeKey, pctKey string, mountTotal capacity.Bytes) (capacity.Bytes, error) {
	b, ok, err := n.Capacity(sizeKey)
	if err != nil {
		return 0, err
	}
	if ok {
		return b, nil
	}
	pct, ok := n.Int(pctKey)
	if !ok || pct <= 0 {
		return 0, nil
	}
	return mountTotal.Percent(pct), nil
}

// Aggregate builds the requirement table for nodes from collected facts.
// Nodes on hosts without facts contribute ports and counts only.
func Aggregate(ctx context.Context, nodes []*topology.Node, facts map[string]*probe.Facts, mounts MountResolver) (*Table, error) {
	t := newTable()
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.nodesPerIP[n.IP]++

		if t.ports[n.IP] == nil {
			t.ports[n.IP] = map[int][]*topology.Node{}
		}
		for _, p := range n.Ports() {
			t.ports[n.IP][p] = append(t.ports[n.IP][p], n)
		}

		f := facts[n.IP]
		var total capacity.Bytes
		if f != nil && f.Memory != nil {
			total = f.Memory.Total
		}
		mem, ok, err := MemoryDemand(n, total)
		if err != nil {
			return nil, err
		}
		if ok {
			t.memory[n.IP] = append(t.memory[n.IP], Contribution{Node: n, Key: n.Spec().MemoryKey, Bytes: mem})
		}

		if n.Component == topology.OceanBase && mounts != nil {
			if err := t.addDisk(ctx, n, mounts); err != nil {
				t.unresolved[n.ID()] = err
			}
		}
	}
	return t, nil
}

func (t *Table) addDisk(ctx context.Context, n *topology.Node, mounts MountResolver) error {
	dataDir := n.StringValue(topology.KeyDataDir)
	redoDir := n.StringValue(topology.KeyRedoDir)
	if dataDir == "" || redoDir == "" {
		return fmt.Errorf("%s: home_path, data_dir or redo_dir not configured", n.ID())
	}
	dm, err := mounts.ResolveMount(ctx, n.IP, dataDir)
	if err != nil {
		return err
	}
	lm, err := mounts.ResolveMount(ctx, n.IP, redoDir)
	if err != nil {
		return err
	}

	// Each requirement resolves against the unshrunk mount total.
	dataReq, err := DiskDemand(n, topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage, dm.Total)
	if err != nil {
		return err
	}
	logReq, err := DiskDemand(n, topology.KeyLogDiskSize, topology.KeyLogDiskPercentage, lm.Total)
	if err != nil {
		return err
	}

	dk := DiskKey{IP: n.IP, Mount: dm.Path}
	lk := DiskKey{IP: n.IP, Mount: lm.Path}
	t.mounts[dk] = dm
	t.mounts[lk] = lm
	t.disk[dk] = append(t.disk[dk], Contribution{Node: n, Key: topology.KeyDatafileSize, Bytes: dataReq})
	t.disk[lk] = append(t.disk[lk], Contribution{Node: n, Key: topology.KeyLogDiskSize, Bytes: logReq})
	t.nodeDisk[n.ID()] = NodeDisk{Data: dk, Log: lk, DataReq: dataReq, LogReq: logReq}
	return nil
}
