package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// Check items a diagnostic can be recorded against.
const (
	ItemMem  = "mem"
	ItemDisk = "disk"
	ItemNet  = "net"
)

// Diagnostic is a node-scoped planning outcome the checks must report.
type Diagnostic struct {
	Item string
	// Fatal diagnostics fail the item; others are warnings.
	Fatal bool
	Err   *obperrors.Error
	// Keys are the parameters a fix would change.
	Keys []string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Item, d.Err.Message)
}

// Request is the input of one node's planning.
type Request struct {
	Node  *topology.Node
	Facts *probe.Facts
	// CoTenants are the nodes sharing Node's host, Node included.
	CoTenants []*topology.Node
}

// Result is what Plan decided for one node.
type Result struct {
	// Delta holds every value written to the node, overrides included.
	Delta topology.Delta
	// Generated lists the keys the planner invented.
	Generated   map[string]bool
	Diagnostics []Diagnostic
}

// Failed reports whether any diagnostic is fatal.
func (r *Result) Failed() bool {
	for _, d := range r.Diagnostics {
		if d.Fatal {
			return true
		}
	}
	return false
}

// Pinger tests reachability from a host over a device.
type Pinger interface {
	Ping(ctx context.Context, from, dev, to string) bool
}

// Planner computes configuration for nodes.
type Planner struct {
	sizing     Sizing
	production bool
	minMemory  capacity.Bytes
	mounts     resource.MountResolver
	pinger     Pinger
	isLocal    func(ip string) bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithSizing replaces the sizing constants.
func WithSizing(s Sizing) Option {
	return func(p *Planner) {
		p.sizing = s
	}
}

// WithProduction plans every node with production minimums.
func WithProduction(production bool) Option {
	return func(p *Planner) {
		p.production = production
	}
}

// WithMinMemory overrides the non-production memory floor.
func WithMinMemory(b capacity.Bytes) Option {
	return func(p *Planner) {
		p.minMemory = b
	}
}

// WithMounts sets the resolver used for disk planning. Without one, disk
// parameters are left alone.
func WithMounts(m resource.MountResolver) Option {
	return func(p *Planner) {
		p.mounts = m
	}
}

// WithPinger sets how network devices are tested.
func WithPinger(pg Pinger) Option {
	return func(p *Planner) {
		p.pinger = pg
	}
}

// WithLocality sets how a node is recognised as running on this machine.
func WithLocality(isLocal func(ip string) bool) Option {
	return func(p *Planner) {
		p.isLocal = isLocal
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		sizing:  DefaultSizing(),
		isLocal: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// plan carries the working state of one Plan call.
type plan struct {
	*Planner
	req    Request
	n      *topology.Node
	result *Result

	memLimit capacity.Bytes
	memAuto  bool
	floor    capacity.Bytes
}

func (s *plan) set(key string, v any) {
	s.n.Set(key, v)
	s.result.Delta[key] = v
	s.result.Generated[key] = true
}

func (s *plan) diag(item string, fatal bool, err *obperrors.Error, keys ...string) {
	s.result.Diagnostics = append(s.result.Diagnostics, Diagnostic{Item: item, Fatal: fatal, Err: err, Keys: keys})
}

// Plan fills unset parameters of req.Node and applies them to it. Only
// storage nodes are sized; other components pass through untouched. The
// error is reserved for cancellation.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	s := &plan{
		Planner: p,
		req:     req,
		n:       req.Node,
		result:  &Result{Delta: topology.Delta{}, Generated: map[string]bool{}},
	}
	if s.n.Component != topology.OceanBase {
		return s.result, nil
	}
	s.floor = p.sizing.Floor(p.production || s.n.Bool(topology.KeyProductionMode), p.minMemory)

	if err := s.planDevice(ctx); err != nil {
		return nil, err
	}
	s.planCPU()
	if !s.planMemory() {
		return s.finish(), nil
	}
	if err := s.planDisk(ctx); err != nil {
		return nil, err
	}
	s.planSystemMemory()
	return s.finish(), nil
}

func (s *plan) finish() *Result {
	if len(s.result.Delta) > 0 {
		slog.Debug("planned node",
			slog.String("node", s.n.ID()),
			slog.Any("keys", s.result.Delta.Keys()),
			slog.Int("diagnostics", len(s.result.Diagnostics)))
	}
	return s.result
}

func (s *plan) facts() *probe.Facts {
	if s.req.Facts == nil {
		return probe.NewFacts(s.n.IP)
	}
	return s.req.Facts
}

func (s *plan) planDevice(ctx context.Context) error {
	if s.n.Declared(topology.KeyDevname) {
		return nil
	}
	if s.isLocal(s.n.IP) {
		s.set(topology.KeyDevname, "lo")
		return nil
	}
	f := s.facts()
	if f.IsDegraded(probe.FactNet) || s.pinger == nil {
		s.diag(ItemNet, false, obperrors.FactUnavailable(probe.FactNet, s.n.IP, f.Degraded[probe.FactNet]).
			WithSuggestion("Set devname explicitly for this server"), topology.KeyDevname)
		return nil
	}
	devs := append([]string(nil), f.Devices...)
	sort.Strings(devs)
	for _, dev := range devs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if dev == "lo" {
			continue
		}
		if s.pinger.Ping(ctx, s.n.IP, dev, s.n.IP) {
			s.set(topology.KeyDevname, dev)
			return nil
		}
	}
	s.diag(ItemNet, true, obperrors.Newf(obperrors.ErrCodeDeviceNotFound,
		"%s: no network device reaches %s", s.n.IP, s.n.IP).
		WithSuggestion("Set devname to the interface that carries the server ip"), topology.KeyDevname)
	return nil
}

func (s *plan) planCPU() {
	if s.n.Declared(topology.KeyCPUCount) {
		if v, _ := s.n.ConfiguredInt(topology.KeyCPUCount); v < s.sizing.MinCPU {
			slog.Warn("cpu_count raised to minimum",
				slog.String("node", s.n.ID()),
				slog.Int("configured", v),
				slog.Int("minimum", s.sizing.MinCPU))
			s.n.Override(topology.KeyCPUCount, s.sizing.MinCPU)
			s.result.Delta[topology.KeyCPUCount] = s.sizing.MinCPU
		}
		return
	}
	f := s.facts()
	if f.CPUCores == 0 {
		return
	}
	s.set(topology.KeyCPUCount, s.sizing.CPUCount(f.CPUCores))
}

// needsAutoMemory reports whether the planner sizes m's memory.
func needsAutoMemory(m *topology.Node) bool {
	return m.Component == topology.OceanBase &&
		!m.Declared(topology.KeyMemoryLimit) &&
		!m.Declared(topology.KeyMemoryLimitPercentage)
}

// planMemory settles memory_limit. It returns false when nothing
// memory-dependent can be planned.
func (s *plan) planMemory() bool {
	f := s.facts()
	if !needsAutoMemory(s.n) {
		var total capacity.Bytes
		if f.Memory != nil {
			total = f.Memory.Total
		}
		limit, ok, err := resource.MemoryDemand(s.n, total)
		if err != nil {
			s.diag(ItemMem, true, obperrors.New(obperrors.ErrCodeInvalidInput, err.Error(), err), topology.KeyMemoryLimit)
			return false
		}
		if !ok {
			return false
		}
		s.memLimit = limit
		return true
	}

	if f.Memory == nil {
		s.diag(ItemMem, false, obperrors.FactUnavailable(probe.FactMemory, s.n.IP, f.Degraded[probe.FactMemory]).
			WithSuggestion("Set memory_limit explicitly for this server"), topology.KeyMemoryLimit)
		return false
	}

	basis := f.Memory.Usable()
	auto := 0
	for _, m := range s.req.CoTenants {
		if needsAutoMemory(m) {
			auto++
			continue
		}
		if d, ok, err := resource.MemoryDemand(m, f.Memory.Total); err == nil && ok {
			basis -= d
		}
	}
	if auto == 0 {
		auto = 1
	}
	share := capacity.Max(0, basis/capacity.Bytes(auto))

	if share < s.sizing.StartupMin {
		s.diag(ItemMem, true, obperrors.Newf(obperrors.ErrCodeMemoryNotEnough,
			"%s: usable memory share %s is below the startup minimum %s", s.n.IP, share, s.sizing.StartupMin).
			WithSuggestion("Free memory on the host or move nodes to other hosts"), topology.KeyMemoryLimit)
		return false
	}
	if s.floor > share {
		s.diag(ItemMem, true, obperrors.Newf(obperrors.ErrCodeMemoryInfeasible,
			"%s: memory floor %s does not fit the usable share %s", s.n.IP, s.floor, share).
			WithDetail("share", share.String()).
			WithSuggestion("Free memory on the host, reduce co-located nodes or lower the memory floor"), topology.KeyMemoryLimit)
		return false
	}

	s.memLimit = capacity.Max(s.floor, share.Mul(s.sizing.MemoryShare).RoundDown(s.sizing.RoundUnit))
	s.memAuto = true
	s.set(topology.KeyMemoryLimit, s.memLimit)
	return true
}

func (s *plan) planSystemMemory() {
	if s.n.Declared(topology.KeySystemMemory) || s.memLimit == 0 {
		return
	}
	s.set(topology.KeySystemMemory, s.sizing.SystemMemory(s.memLimit))
}

// shrinkMemory lowers an auto memory limit to limit. It fails when the limit
// was not chosen here or would drop below the floor.
func (s *plan) shrinkMemory(limit capacity.Bytes) bool {
	limit = limit.RoundDown(s.sizing.RoundUnit)
	if !s.memAuto || limit < s.floor {
		return false
	}
	slog.Info("memory_limit reduced to fit disk",
		slog.String("node", s.n.ID()),
		slog.String("from", s.memLimit.String()),
		slog.String("to", limit.String()))
	s.memLimit = limit
	s.set(topology.KeyMemoryLimit, limit)
	return true
}
