package probe

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/transport"
)

// Commands run on every host by ShellProber.Collect.
const (
	CmdMeminfo   = "cat /proc/meminfo"
	CmdDF        = "df -Pk"
	CmdCPU       = "grep -c ^processor /proc/cpuinfo"
	CmdDevices   = "ls /sys/class/net"
	CmdListening = "cat /proc/net/tcp /proc/net/tcp6 2>/dev/null"
	CmdUlimit    = "ulimit -n; ulimit -u; ulimit -s; ulimit -c"
	CmdAIO       = "cat /proc/sys/fs/aio-max-nr /proc/sys/fs/aio-nr"
	CmdDate      = "date +%s%N"
)

// DefaultSysctlKeys are the kernel parameters the kernel check reads.
var DefaultSysctlKeys = []string{
	"vm.max_map_count",
	"vm.min_free_kbytes",
	"vm.overcommit_memory",
	"fs.file-max",
	"fs.aio-max-nr",
	"net.core.somaxconn",
}

// DefaultMountCacheSize bounds the mount-resolution cache.
const DefaultMountCacheSize = 1024

// ShellProber reads facts by running shell commands through an Executor.
// Create one per preflight pass: its mount cache is never invalidated.
type ShellProber struct {
	exec       transport.Executor
	sysctlKeys []string
	cacheSize  int
	now        func() time.Time

	mounts *lru.Cache[string, Mount]
}

// Option configures a ShellProber.
type Option func(*ShellProber)

// WithSysctlKeys overrides the kernel parameters to read.
func WithSysctlKeys(keys []string) Option {
	return func(p *ShellProber) {
		p.sysctlKeys = keys
	}
}

// WithMountCacheSize sets the mount cache capacity.
func WithMountCacheSize(n int) Option {
	return func(p *ShellProber) {
		if n > 0 {
			p.cacheSize = n
		}
	}
}

// WithClock sets the local clock used for skew sampling.
func WithClock(now func() time.Time) Option {
	return func(p *ShellProber) {
		p.now = now
	}
}

// NewShellProber creates a ShellProber.
func NewShellProber(exec transport.Executor, opts ...Option) (*ShellProber, error) {
	p := &ShellProber{
		exec:       exec,
		sysctlKeys: DefaultSysctlKeys,
		cacheSize:  DefaultMountCacheSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	cache, err := lru.New[string, Mount](p.cacheSize)
	if err != nil {
		return nil, obperrors.InternalError("failed to create mount cache", err)
	}
	p.mounts = cache
	return p, nil
}

func (p *ShellProber) run(ctx context.Context, ip, cmd string) (string, error) {
	res := p.exec.Execute(ctx, ip, cmd)
	if res.Success {
		return res.Stdout, nil
	}
	if res.Err != nil {
		return "", res.Err
	}
	return res.Stdout, fmt.Errorf("%q exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
}

// collector reads one fact into f and names it for degradation.
type collector struct {
	fact string
	read func(ctx context.Context, ip string, f *Facts) error
}

func (p *ShellProber) collectors() []collector {
	return []collector{
		{FactMemory, p.readMemory},
		{FactDisk, p.readDisk},
		{FactCPU, p.readCPU},
		{FactNet, p.readDevices},
		{FactPorts, p.readListening},
		{FactUlimit, p.readUlimits},
		{FactKernel, p.readSysctl},
		{FactAIO, p.readAIO},
	}
}

// Collect reads every host-wide fact of ip. The returned facts are never nil;
// the error joins every degraded fact and is meant for logging only.
func (p *ShellProber) Collect(ctx context.Context, ip string) (*Facts, error) {
	return collect(ctx, ip, p.collectors())
}

func collect(ctx context.Context, ip string, cs []collector) (*Facts, error) {
	f := NewFacts(ip)
	var errs error
	for _, c := range cs {
		if err := c.read(ctx, ip, f); err != nil {
			e := obperrors.FactUnavailable(c.fact, ip, err)
			f.Degrade(c.fact, e)
			errs = multierr.Append(errs, e)
		}
	}
	if errs != nil {
		slog.Debug("probe degraded",
			slog.String("host", ip),
			slog.Int("facts", len(f.Degraded)),
			slog.String("error", errs.Error()))
	}
	return f, errs
}

func (p *ShellProber) readMemory(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdMeminfo)
	if err != nil {
		return err
	}
	m, err := ParseMeminfo(out)
	if err != nil {
		return err
	}
	f.Memory = m
	return nil
}

func (p *ShellProber) readDisk(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdDF)
	if err != nil {
		return err
	}
	ms, err := ParseDF(out)
	if err != nil {
		return err
	}
	p.setMounts(ip, f, ms)
	return nil
}

func (p *ShellProber) setMounts(ip string, f *Facts, ms map[string]Mount) {
	f.Mounts = ms
	for _, m := range ms {
		p.mounts.Add(mountKey(ip, m.Path), m)
	}
}

func (p *ShellProber) readCPU(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdCPU)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return err
	}
	f.CPUCores = n
	return nil
}

func (p *ShellProber) readDevices(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdDevices)
	if err != nil {
		return err
	}
	f.Devices = strings.Fields(out)
	return nil
}

func (p *ShellProber) readListening(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdListening)
	// A missing tcp6 table makes cat fail while tcp is still readable.
	if err != nil && out == "" {
		return err
	}
	f.Listening = ParseListening(out)
	return nil
}

func (p *ShellProber) readUlimits(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdUlimit)
	if err != nil {
		return err
	}
	u, err := ParseUlimits(out)
	if err != nil {
		return err
	}
	f.Ulimits = u
	return nil
}

func (p *ShellProber) readSysctl(ctx context.Context, ip string, f *Facts) error {
	if len(p.sysctlKeys) == 0 {
		return nil
	}
	// Unknown keys make sysctl exit non-zero but the known ones still print.
	out, err := p.run(ctx, ip, "sysctl "+strings.Join(p.sysctlKeys, " "))
	vals := ParseSysctl(out)
	if len(vals) == 0 {
		if err == nil {
			err = fmt.Errorf("sysctl: no values")
		}
		return err
	}
	f.Sysctl = vals
	return nil
}

func (p *ShellProber) readAIO(ctx context.Context, ip string, f *Facts) error {
	out, err := p.run(ctx, ip, CmdAIO)
	if err != nil {
		return err
	}
	a, err := ParseAIO(out)
	if err != nil {
		return err
	}
	f.AIO = a
	return nil
}

func parseSingleDF(out string) (Mount, error) {
	ms, err := ParseDF(out)
	if err != nil {
		return Mount{}, err
	}
	if len(ms) != 1 {
		return Mount{}, fmt.Errorf("df: expected one filesystem, got %d", len(ms))
	}
	for _, m := range ms {
		return m, nil
	}
	return Mount{}, nil
}

func mountKey(ip, p string) string {
	return ip + ":" + p
}

// ResolveMount finds the filesystem holding dir. Known mount points
// short-circuit; otherwise the walk probes each unseen parent with df until
// one exists.
func (p *ShellProber) ResolveMount(ctx context.Context, ip, dir string) (Mount, error) {
	dir = path.Clean(dir)
	var lastErr error
	for cur := dir; ; cur = path.Dir(cur) {
		if m, ok := p.mounts.Get(mountKey(ip, cur)); ok {
			if cur != dir {
				p.mounts.Add(mountKey(ip, dir), m)
			}
			return m, nil
		}
		out, err := p.run(ctx, ip, CmdDF+" "+transport.ShellQuote(cur))
		if err == nil {
			m, perr := parseSingleDF(out)
			if perr == nil {
				p.mounts.Add(mountKey(ip, m.Path), m)
				p.mounts.Add(mountKey(ip, dir), m)
				return m, nil
			}
			err = perr
		}
		lastErr = err
		if cur == "/" || cur == "." {
			break
		}
	}
	return Mount{}, obperrors.FactUnavailable(FactMount, ip, lastErr).WithDetail("dir", dir)
}

// Ping reports whether from reaches to over dev with one ICMP echo.
func (p *ShellProber) Ping(ctx context.Context, from, dev, to string) bool {
	cmd := "ping -c 1 -W 1 "
	if dev != "" {
		cmd += "-I " + transport.ShellQuote(dev) + " "
	}
	cmd += transport.ShellQuote(to)
	return p.exec.Execute(ctx, from, cmd).Success
}

// Clock samples the remote clock, compensating half the round trip.
func (p *ShellProber) Clock(ctx context.Context, ip string) (ClockSample, error) {
	t0 := p.now()
	out, err := p.run(ctx, ip, CmdDate)
	t1 := p.now()
	if err != nil {
		return ClockSample{}, obperrors.FactUnavailable(FactClock, ip, err)
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return ClockSample{}, obperrors.FactUnavailable(FactClock, ip, err)
	}
	rtt := t1.Sub(t0)
	remote := time.Unix(0, ns)
	return ClockSample{IP: ip, Offset: remote.Sub(t0.Add(rtt / 2)), RTT: rtt}, nil
}

func dirStateScript(dir string) string {
	d := transport.ShellQuote(dir)
	return `D=` + d + `; if [ -e "$D" ]; then if [ -z "$(ls -A "$D" 2>/dev/null)" ]; then echo empty; else echo nonempty; fi; else echo absent; fi; ` +
		`P="$D"; while [ ! -e "$P" ]; do P=$(dirname "$P"); done; if [ -w "$P" ]; then echo writable; else echo readonly; fi`
}

// DirState reports whether dir exists, is empty, and can be created.
func (p *ShellProber) DirState(ctx context.Context, ip, dir string) (DirState, error) {
	out, err := p.run(ctx, ip, dirStateScript(dir))
	if err != nil {
		return DirState{}, obperrors.FactUnavailable(FactDir, ip, err).WithDetail("dir", dir)
	}
	st, err := ParseDirState(out)
	if err != nil {
		return DirState{}, obperrors.FactUnavailable(FactDir, ip, err).WithDetail("dir", dir)
	}
	return st, nil
}
