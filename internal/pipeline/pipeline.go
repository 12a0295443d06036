// Package pipeline runs one pass over a deployment: probe every host, plan
// the parameters the operator left unset, consolidate them per component,
// aggregate the final requirements and run the check catalogue.
package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/obplan/internal/consolidate"
	"github.com/Aman-CERP/obplan/internal/metrics"
	"github.com/Aman-CERP/obplan/internal/planner"
	"github.com/Aman-CERP/obplan/internal/preflight"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// DefaultPasswordLength is the length of generated credentials.
const DefaultPasswordLength = 20

// Options configure one pass.
type Options struct {
	Policy preflight.Policy

	// SkipPlanning validates the operator configuration as it is, for
	// restarts and upgrades. Directory checks are skipped since the
	// directories already hold data.
	SkipPlanning bool

	// Concurrency bounds how many hosts are probed at once.
	Concurrency int

	// Tenants are reservations already carved from the storage cluster.
	Tenants []preflight.TenantReservation

	// PasswordLength is the length of generated credentials.
	PasswordLength int

	// Skip names check items left out of the pass.
	Skip []string
}

// Dependencies are the collaborators of an Engine.
type Dependencies struct {
	// Prober reads host facts and live state (required).
	Prober probe.Prober

	// IsLocal recognises nodes running on this machine.
	IsLocal func(ip string) bool

	// Sizing replaces the planner's sizing constants when set.
	Sizing *planner.Sizing

	// Limits replaces the check thresholds when set.
	Limits *preflight.Limits

	// Metrics records the outcome of each pass. Optional.
	Metrics *metrics.Recorder

	// Random is the entropy source for credentials.
	Random io.Reader
}

// Report is the outcome of one pass.
type Report struct {
	RunID     string
	Facts     map[string]*probe.Facts
	Deltas    []topology.ComponentDelta
	Generated *topology.Generated
	Ledger    *preflight.Ledger
	Duration  time.Duration
}

// Failed reports whether any check item failed.
func (r *Report) Failed() bool {
	return r.Ledger != nil && r.Ledger.Failed()
}

// Delta returns the consolidated delta of component c.
func (r *Report) Delta(c topology.Component) (topology.ComponentDelta, bool) {
	for _, d := range r.Deltas {
		if d.Component == c {
			return d, true
		}
	}
	return topology.ComponentDelta{}, false
}

// Engine executes passes. It holds no per-pass state and may be reused.
type Engine struct {
	prober  probe.Prober
	isLocal func(string) bool
	sizing  *planner.Sizing
	limits  *preflight.Limits
	metrics *metrics.Recorder
	random  io.Reader
}

// NewEngine creates an Engine with injected dependencies.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	e := &Engine{
		prober:  deps.Prober,
		isLocal: deps.IsLocal,
		sizing:  deps.Sizing,
		limits:  deps.Limits,
		metrics: deps.Metrics,
		random:  deps.Random,
	}
	if e.isLocal == nil {
		e.isLocal = func(string) bool { return false }
	}
	if e.random == nil {
		e.random = rand.Reader
	}
	return e, nil
}

// Plan probes and plans d without running checks. Planning findings are
// recorded in the report's ledger.
func (e *Engine) Plan(ctx context.Context, d *topology.Deployment, opts Options) (*Report, error) {
	return e.run(ctx, d, opts, false)
}

// Precheck runs the full pass: probe, plan, consolidate and check. Nodes of
// d hold the final configuration afterwards.
func (e *Engine) Precheck(ctx context.Context, d *topology.Deployment, opts Options) (*Report, error) {
	return e.run(ctx, d, opts, true)
}

// pass carries the working state of one run.
type pass struct {
	*Engine
	d      *topology.Deployment
	opts   Options
	log    *slog.Logger
	report *Report

	planned     map[*topology.Node]*planner.Result
	credentials map[topology.Component]topology.Delta
	diags       map[*topology.Node][]planner.Diagnostic
}

func (e *Engine) run(ctx context.Context, d *topology.Deployment, opts Options, check bool) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	p := &pass{
		Engine: e,
		d:      d,
		opts:   opts,
		log:    slog.With(slog.String("run_id", runID)),
		report: &Report{RunID: runID, Generated: topology.NewGenerated()},
		diags:  map[*topology.Node][]planner.Diagnostic{},
	}
	p.log.Info("pass_started",
		slog.Int("nodes", len(d.Nodes())),
		slog.Int("hosts", len(d.Hosts())),
		slog.Bool("plan", !opts.SkipPlanning),
		slog.Bool("check", check))

	if err := p.probe(ctx); err != nil {
		return nil, err
	}
	if !opts.SkipPlanning {
		if err := p.plan(ctx); err != nil {
			return nil, err
		}
		if err := p.consolidate(); err != nil {
			return nil, err
		}
	}
	p.report.Generated.Freeze()

	ledger := preflight.NewLedger(opts.Policy, p.report.Generated)
	p.report.Ledger = ledger
	p.recordDiagnostics(ledger)

	if check {
		if err := p.check(ctx, ledger); err != nil {
			return nil, err
		}
	} else {
		ledger.Flush()
	}

	p.report.Duration = time.Since(start)
	p.recordOutcome(check)
	p.log.Info("pass_complete",
		slog.Bool("failed", ledger.Failed()),
		slog.Int("failures", len(ledger.Failures())),
		slog.Int64("duration_ms", p.report.Duration.Milliseconds()))
	return p.report, nil
}

// probe collects facts from every host and waits for all of them.
func (p *pass) probe(ctx context.Context) error {
	start := time.Now()
	var ips []string
	for _, h := range p.d.Hosts() {
		ips = append(ips, h.IP)
	}
	facts, err := probe.CollectAll(ctx, p.prober, ips, p.opts.Concurrency)
	if facts == nil {
		return err
	}
	if err != nil {
		p.log.Warn("some host facts are unavailable", slog.String("error", err.Error()))
	}
	for _, f := range facts {
		for fact := range f.Degraded {
			p.metrics.RecordDegraded(fact)
		}
	}
	p.report.Facts = facts
	p.metrics.ObserveStage(metrics.StageProbe, time.Since(start))
	p.log.Debug("probe_complete",
		slog.Int("hosts", len(facts)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func (p *pass) newPlanner() *planner.Planner {
	opts := []planner.Option{
		planner.WithProduction(p.opts.Policy.Production),
		planner.WithMinMemory(p.opts.Policy.MinMemory),
		planner.WithMounts(p.prober),
		planner.WithPinger(p.prober),
		planner.WithLocality(p.isLocal),
	}
	if p.sizing != nil {
		opts = append(opts, planner.WithSizing(*p.sizing))
	}
	return planner.New(opts...)
}

// plan sizes every node in declaration order so later co-tenants see the
// values planned for earlier ones, then generates missing credentials.
func (p *pass) plan(ctx context.Context) error {
	start := time.Now()
	pl := p.newPlanner()
	results := map[*topology.Node]*planner.Result{}
	for _, n := range p.d.Nodes() {
		res, err := pl.Plan(ctx, planner.Request{
			Node:      n,
			Facts:     p.report.Facts[n.IP],
			CoTenants: p.d.CoTenants(n),
		})
		if err != nil {
			return err
		}
		results[n] = res
		if len(res.Diagnostics) > 0 {
			p.diags[n] = res.Diagnostics
		}
	}
	p.planned = results

	creds, err := planner.GenerateCredentials(p.d, p.random, p.passwordLength())
	if err != nil {
		return fmt.Errorf("failed to generate credentials: %w", err)
	}
	p.credentials = creds

	p.metrics.ObserveStage(metrics.StagePlan, time.Since(start))
	p.log.Debug("plan_complete",
		slog.Int("nodes", len(results)),
		slog.Int("diagnostics", len(p.diags)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func (p *pass) passwordLength() int {
	if p.opts.PasswordLength > 0 {
		return p.opts.PasswordLength
	}
	return DefaultPasswordLength
}

// consolidate minimizes the planned deltas per component and records which
// keys were generated, at the scope they will be written.
func (p *pass) consolidate() error {
	start := time.Now()
	gen := p.report.Generated
	for _, g := range p.d.Groups {
		var nodes []consolidate.NodeDelta
		for _, n := range g.Nodes {
			res := p.planned[n]
			if res == nil {
				continue
			}
			nodes = append(nodes, consolidate.NodeDelta{Node: n, Delta: res.Delta, Generated: res.Generated})
		}
		merged := consolidate.Consolidate(nodes)

		out := topology.ComponentDelta{Component: g.Component, Global: merged.Global, PerNode: map[string]topology.Delta{}}
		for key, v := range merged.Global {
			if generatedByAny(nodes, key) {
				gen.AddGlobal(g.Component, key, v)
			}
		}
		for _, n := range g.Nodes {
			d := merged.Node(n)
			if len(d) == 0 {
				continue
			}
			out.PerNode[n.Name] = d
			for key, v := range d {
				if p.planned[n] != nil && p.planned[n].Generated[key] {
					gen.AddNode(n, key, v)
				}
			}
		}

		for key, v := range p.credentials[g.Component] {
			out.Global[key] = v
			gen.AddGlobal(g.Component, key, v)
			for _, n := range g.Nodes {
				n.Set(key, v)
			}
		}

		if len(out.Global) == 0 && len(out.PerNode) == 0 {
			continue
		}
		p.report.Deltas = append(p.report.Deltas, out)
		p.metrics.RecordPlanned(string(g.Component), "global", len(out.Global))
		perNode := 0
		for _, d := range out.PerNode {
			perNode += len(d)
		}
		p.metrics.RecordPlanned(string(g.Component), "node", perNode)
	}
	p.metrics.ObserveStage(metrics.StageConsolidate, time.Since(start))
	return nil
}

func generatedByAny(nodes []consolidate.NodeDelta, key string) bool {
	for _, nd := range nodes {
		if nd.Generated[key] {
			return true
		}
	}
	return false
}

// recordDiagnostics turns planning outcomes into ledger findings before any
// check runs, so a planning failure is the item's final status.
func (p *pass) recordDiagnostics(l *preflight.Ledger) {
	nodes := make([]*topology.Node, 0, len(p.diags))
	for n := range p.diags {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })

	for _, n := range nodes {
		for _, dg := range p.diags[n] {
			if dg.Fatal {
				l.Infeasible(n, dg.Item, dg.Err, dg.Keys...)
			} else {
				l.Warn(n, dg.Item, dg.Err, dg.Keys...)
			}
		}
	}
}

// check aggregates the final configuration and runs the catalogue.
func (p *pass) check(ctx context.Context, l *preflight.Ledger) error {
	nodes := p.d.Nodes()

	start := time.Now()
	table, err := resource.Aggregate(ctx, nodes, p.report.Facts, p.prober)
	if err != nil {
		return err
	}
	p.metrics.ObserveStage(metrics.StageAggregate, time.Since(start))

	opts := []preflight.Option{
		preflight.WithFacts(p.report.Facts),
		preflight.WithProber(p.prober),
		preflight.WithGenerated(p.report.Generated),
		preflight.WithLocality(p.isLocal),
		preflight.WithTenantReservations(p.opts.Tenants),
	}
	if p.limits != nil {
		opts = append(opts, preflight.WithLimits(*p.limits))
	}
	if len(p.opts.Skip) > 0 {
		opts = append(opts, preflight.WithSkip(p.opts.Skip...))
	}
	if p.opts.SkipPlanning {
		opts = append(opts, preflight.WithSkip(preflight.ItemDir))
	}

	start = time.Now()
	if err := preflight.New(opts...).RunInto(ctx, l, nodes, table); err != nil {
		return err
	}
	p.metrics.ObserveStage(metrics.StageCheck, time.Since(start))
	return nil
}

func (p *pass) recordOutcome(check bool) {
	if p.metrics == nil {
		return
	}
	for _, r := range p.report.Ledger.Records() {
		p.metrics.RecordCheck(r.Item, r.Status.String(), len(r.Warnings))
	}
	if check {
		p.metrics.RecordRun(p.report.Ledger.Failed())
	}
}
