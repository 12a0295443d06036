package preflight

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// Limits are the thresholds the checks compare host state against.
type Limits struct {
	StartupMemory     capacity.Bytes
	ProductionMemory  capacity.Bytes
	SystemMemoryRatio int

	NoFilePerNode     int64
	NoFileRecommended int64
	NProcMin          int64
	// StackMin is in KiB, the unit ulimit -s reports.
	StackMin int64

	AIOPerNode     int64
	ClockThreshold time.Duration
	Kernel         []KernelRule
}

// DefaultLimits returns the thresholds used in production.
func DefaultLimits() Limits {
	return Limits{
		StartupMemory:     3 * capacity.GiB,
		ProductionMemory:  16 * capacity.GiB,
		SystemMemoryRatio: 75,

		NoFilePerNode:     20000,
		NoFileRecommended: 655350,
		NProcMin:          120000,
		StackMin:          1024,

		AIOPerNode:     20000,
		ClockThreshold: 200 * time.Millisecond,
		Kernel:         DefaultKernelRules(),
	}
}

// TenantReservation is capacity already promised to a tenant of the
// storage cluster.
type TenantReservation struct {
	Name    string         `yaml:"name"`
	Memory  capacity.Bytes `yaml:"memory"`
	LogDisk capacity.Bytes `yaml:"log_disk"`
}

// Env is what an evaluator reads during a pass.
type Env struct {
	Ledger  *Ledger
	Table   *resource.Table
	Facts   map[string]*probe.Facts
	Prober  probe.Prober
	Limits  Limits
	Tenants []TenantReservation
	IsLocal func(ip string) bool
	// All is every node of the pass, whichever checks apply to it.
	All []*topology.Node
}

// HostFacts returns the facts of ip, empty when the host was never probed.
func (e *Env) HostFacts(ip string) *probe.Facts {
	if f, ok := e.Facts[ip]; ok && f != nil {
		return f
	}
	f := probe.NewFacts(ip)
	f.Degrade(probe.FactMemory, errNotProbed)
	f.Degrade(probe.FactDisk, errNotProbed)
	f.Degrade(probe.FactNet, errNotProbed)
	f.Degrade(probe.FactPorts, errNotProbed)
	f.Degrade(probe.FactUlimit, errNotProbed)
	f.Degrade(probe.FactKernel, errNotProbed)
	f.Degrade(probe.FactAIO, errNotProbed)
	return f
}

// Checker runs the check catalogue over a set of nodes.
type Checker struct {
	prober    probe.Prober
	facts     map[string]*probe.Facts
	gen       *topology.Generated
	catalogue []Check
	limits    Limits
	tenants   []TenantReservation
	isLocal   func(string) bool
	skip      map[string]bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithProber sets how live state (dirs, pings, clocks) is read.
func WithProber(p probe.Prober) Option {
	return func(c *Checker) {
		c.prober = p
	}
}

// WithFacts sets the facts collected for this pass.
func WithFacts(facts map[string]*probe.Facts) Option {
	return func(c *Checker) {
		c.facts = facts
	}
}

// WithGenerated sets the frozen set of planned keys.
func WithGenerated(g *topology.Generated) Option {
	return func(c *Checker) {
		c.gen = g
	}
}

// WithCatalogue replaces the default catalogue.
func WithCatalogue(checks []Check) Option {
	return func(c *Checker) {
		c.catalogue = checks
	}
}

// WithLimits replaces the default thresholds.
func WithLimits(l Limits) Option {
	return func(c *Checker) {
		c.limits = l
	}
}

// WithTenantReservations declares tenants already carved from the cluster.
func WithTenantReservations(t []TenantReservation) Option {
	return func(c *Checker) {
		c.tenants = t
	}
}

// WithLocality sets how a node is recognised as running on this machine.
func WithLocality(isLocal func(ip string) bool) Option {
	return func(c *Checker) {
		c.isLocal = isLocal
	}
}

// WithSkip leaves items out of the pass.
func WithSkip(items ...string) Option {
	return func(c *Checker) {
		for _, it := range items {
			c.skip[it] = true
		}
	}
}

// New creates a Checker with the default catalogue.
func New(opts ...Option) *Checker {
	c := &Checker{
		facts:     map[string]*probe.Facts{},
		catalogue: DefaultCatalogue(),
		limits:    DefaultLimits(),
		isLocal:   func(string) bool { return false },
		skip:      map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunChecks evaluates every applicable check and returns the flushed
// ledger. The error is reserved for cancellation.
func (c *Checker) RunChecks(ctx context.Context, nodes []*topology.Node, table *resource.Table, policy Policy) (*Ledger, error) {
	l := NewLedger(policy, c.gen)
	if err := c.RunInto(ctx, l, nodes, table); err != nil {
		return nil, err
	}
	return l, nil
}

// RunInto evaluates the catalogue into an existing ledger, which may already
// hold findings of this pass, and flushes it.
func (c *Checker) RunInto(ctx context.Context, l *Ledger, nodes []*topology.Node, table *resource.Table) error {
	env := &Env{
		Ledger:  l,
		Table:   table,
		Facts:   c.facts,
		Prober:  c.prober,
		Limits:  c.limits,
		Tenants: c.tenants,
		IsLocal: c.isLocal,
		All:     nodes,
	}

	var checks []Check
	for _, chk := range c.catalogue {
		if !c.skip[chk.Item] {
			checks = append(checks, chk)
		}
	}
	for _, chk := range checks {
		for _, n := range nodes {
			if chk.Applies(n) {
				l.Start(n, chk.Item)
			}
		}
	}

	start := time.Now()
	for _, chk := range checks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := chk.run(ctx, env, nodes); err != nil {
			return err
		}
	}
	l.Flush()

	slog.Debug("preflight checks complete",
		slog.Int("nodes", len(nodes)),
		slog.Int("checks", len(checks)),
		slog.Bool("failed", l.Failed()),
		slog.Duration("duration", time.Since(start)))
	return nil
}
