// Package probe collects hardware and OS facts from deployment hosts.
//
// A fact that cannot be read is recorded as degraded instead of failing the
// whole collection, so checks can downgrade to a warning for that item only.
package probe

import (
	"context"
	"sort"
	"time"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

// Fact names used in Facts.Degraded.
const (
	FactMemory = "memory"
	FactDisk   = "disk"
	FactCPU    = "cpu"
	FactNet    = "net"
	FactPorts  = "ports"
	FactUlimit = "ulimit"
	FactKernel = "kernel"
	FactAIO    = "aio"
	FactClock  = "clock"
	FactDir    = "dir"
	FactMount  = "mount"
	FactPing   = "ping"
)

// Unlimited is the value of an unlimited ulimit.
const Unlimited int64 = -1

// Memory is the /proc/meminfo view of a host.
type Memory struct {
	Total     capacity.Bytes `json:"total"`
	Free      capacity.Bytes `json:"free"`
	Available capacity.Bytes `json:"available"`
	Buffers   capacity.Bytes `json:"buffers"`
	Cached    capacity.Bytes `json:"cached"`
}

// Reclaimable is free plus buffers plus page cache.
func (m Memory) Reclaimable() capacity.Bytes {
	return m.Free + m.Buffers + m.Cached
}

// Usable is the memory a new process can safely claim.
func (m Memory) Usable() capacity.Bytes {
	return capacity.Min(m.Available, m.Reclaimable())
}

// Mount is one filesystem as reported by df.
type Mount struct {
	Path  string         `json:"path"`
	Total capacity.Bytes `json:"total"`
	Used  capacity.Bytes `json:"used"`
	Avail capacity.Bytes `json:"avail"`
}

// Free is the space a new file can take, min(total-used, avail).
func (m Mount) Free() capacity.Bytes {
	return capacity.Min(m.Total-m.Used, m.Avail)
}

// Ulimits are the soft limits of the login shell.
type Ulimits struct {
	NoFile int64 `json:"nofile"`
	NProc  int64 `json:"nproc"`
	Stack  int64 `json:"stack"`
	Core   int64 `json:"core"`
}

// AIO is the async-I/O request budget of the kernel.
type AIO struct {
	Max  int64 `json:"max"`
	Used int64 `json:"used"`
}

// Headroom is the number of requests still available.
func (a AIO) Headroom() int64 {
	return a.Max - a.Used
}

// Facts is everything known about one host for a single pass.
type Facts struct {
	IP        string           `json:"ip"`
	Memory    *Memory          `json:"memory,omitempty"`
	Mounts    map[string]Mount `json:"mounts,omitempty"`
	CPUCores  int              `json:"cpu_cores,omitempty"`
	Devices   []string         `json:"devices,omitempty"`
	Listening map[int]bool     `json:"listening,omitempty"`
	Ulimits   *Ulimits         `json:"ulimits,omitempty"`
	Sysctl    map[string]int64 `json:"sysctl,omitempty"`
	AIO       *AIO             `json:"aio,omitempty"`
	Degraded  map[string]error `json:"-"`
}

// NewFacts returns empty facts for ip.
func NewFacts(ip string) *Facts {
	return &Facts{
		IP:        ip,
		Mounts:    map[string]Mount{},
		Listening: map[int]bool{},
		Sysctl:    map[string]int64{},
		Degraded:  map[string]error{},
	}
}

// Degrade marks fact as unavailable.
func (f *Facts) Degrade(fact string, err error) {
	f.Degraded[fact] = err
}

// IsDegraded reports whether fact could not be read.
func (f *Facts) IsDegraded(fact string) bool {
	_, ok := f.Degraded[fact]
	return ok
}

// HasDevice reports whether dev is a network interface of the host.
func (f *Facts) HasDevice(dev string) bool {
	for _, d := range f.Devices {
		if d == dev {
			return true
		}
	}
	return false
}

// MountPaths returns mount points sorted longest first.
func (f *Facts) MountPaths() []string {
	paths := make([]string, 0, len(f.Mounts))
	for p := range f.Mounts {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths
}

// DirState describes a directory a node will own.
type DirState struct {
	Exists         bool `json:"exists"`
	Empty          bool `json:"empty"`
	ParentWritable bool `json:"parent_writable"`
}

// ClockSample is one round-trip-compensated remote clock reading.
type ClockSample struct {
	IP     string        `json:"ip"`
	Offset time.Duration `json:"offset"`
	RTT    time.Duration `json:"rtt"`
}

// ClockSpread summarizes clock samples across hosts.
type ClockSpread struct {
	Samples []ClockSample
	Min     time.Duration
	Max     time.Duration
}

// Spread is the distance between the fastest and the slowest clock.
func (c ClockSpread) Spread() time.Duration {
	return c.Max - c.Min
}

// Prober reads facts from hosts.
type Prober interface {
	Collect(ctx context.Context, ip string) (*Facts, error)
	ResolveMount(ctx context.Context, ip, dir string) (Mount, error)
	Ping(ctx context.Context, from, dev, to string) bool
	Clock(ctx context.Context, ip string) (ClockSample, error)
	DirState(ctx context.Context, ip, dir string) (DirState, error)
}
