package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/Aman-CERP/obplan/internal/lock"
	"github.com/Aman-CERP/obplan/internal/metrics"
	"github.com/Aman-CERP/obplan/internal/pipeline"
	"github.com/Aman-CERP/obplan/internal/preflight"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
	"github.com/Aman-CERP/obplan/internal/transport"
)

// session is one loaded deployment with its transport, lock and engine.
type session struct {
	path    string
	deploy  *topology.Deployment
	exec    transport.Executor
	prober  probe.Prober
	engine  *pipeline.Engine
	metrics *metrics.Recorder

	lock         *lock.DeploymentLock
	closeExecute func() error
}

// defaultExecutor reaches remote hosts over SSH and runs everything on
// this machine directly.
func defaultExecutor(cfg transport.SSHConfig) (transport.Executor, func() error) {
	remote := transport.NewSSHExecutor(cfg)
	return transport.NewDispatcher(remote, transport.NewLocalExecutor()), remote.Close
}

// open locks and loads the topology at path and wires a pass engine for it.
func (a *app) open(ctx context.Context, path string, mode lock.Mode, wait bool) (*session, error) {
	lk := lock.ForTopology(path)
	var err error
	if wait {
		err = lk.Acquire(ctx, mode)
	} else {
		err = lk.TryAcquire(mode)
	}
	if err != nil {
		return nil, err
	}

	s, err := a.load(path)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	s.lock = lk
	return s, nil
}

func (a *app) load(path string) (*session, error) {
	d, err := topology.Load(path)
	if err != nil {
		return nil, err
	}

	exec, closeExec := a.newExecutor(a.sshConfig(d.User))
	popts := []probe.Option{probe.WithMountCacheSize(a.cfg.Probe.MountCacheSize)}
	if len(a.cfg.Probe.SysctlKeys) > 0 {
		popts = append(popts, probe.WithSysctlKeys(a.cfg.Probe.SysctlKeys))
	}
	shell, err := probe.NewShellProber(exec, popts...)
	if err != nil {
		_ = closeExec()
		return nil, err
	}
	var prober probe.Prober = shell
	if a.cfg.Probe.Native {
		prober = probe.NewNativeProber(shell)
	}

	limits := preflight.DefaultLimits()
	limits.ClockThreshold = a.cfg.ClockThreshold()
	rec := metrics.New()
	engine, err := pipeline.NewEngine(pipeline.Dependencies{
		Prober:  prober,
		IsLocal: exec.IsLocalhost,
		Limits:  &limits,
		Metrics: rec,
	})
	if err != nil {
		_ = closeExec()
		return nil, err
	}

	slog.Debug("topology_loaded",
		slog.String("path", path),
		slog.Int("nodes", len(d.Nodes())),
		slog.Int("hosts", len(d.Hosts())))

	return &session{
		path:         path,
		deploy:       d,
		exec:         exec,
		prober:       prober,
		engine:       engine,
		metrics:      rec,
		closeExecute: closeExec,
	}, nil
}

// Close releases the transport and the lock.
func (s *session) Close() error {
	var err error
	if s.closeExecute != nil {
		err = multierr.Append(err, s.closeExecute())
	}
	if s.lock != nil {
		err = multierr.Append(err, s.lock.Release())
	}
	return err
}

// options builds the pass options from configuration.
func (a *app) options(policy preflight.Policy, skipPlanning bool) pipeline.Options {
	opts := pipeline.Options{
		Policy:         policy,
		SkipPlanning:   skipPlanning,
		Concurrency:    a.cfg.Probe.Concurrency,
		PasswordLength: a.cfg.Credentials.Length,
		Skip:           a.cfg.Check.Skip,
	}
	for _, t := range a.cfg.Tenants {
		mem, logDisk := t.TenantBytes()
		opts.Tenants = append(opts.Tenants, preflight.TenantReservation{Name: t.Name, Memory: mem, LogDisk: logDisk})
	}
	return opts
}

// writeMetrics exports the metrics of a pass when a textfile is configured.
func (a *app) writeMetrics(s *session) {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := s.metrics.WriteTextfile(path); err != nil {
		slog.Warn("metrics_textfile_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// sshConfig merges the topology user block over the configured defaults.
func (a *app) sshConfig(u topology.User) transport.SSHConfig {
	c := a.cfg.SSH
	cfg := transport.SSHConfig{
		User:           c.User,
		Password:       c.Password,
		KeyFile:        expandHome(c.KeyFile),
		Port:           c.Port,
		KnownHostsFile: expandHome(c.KnownHostsFile),
		Timeout:        a.cfg.SSHTimeout(),
		DialAttempts:   c.DialAttempts,
	}
	if u.Username != "" {
		cfg.User = u.Username
	}
	if u.Password != "" {
		cfg.Password = u.Password
	}
	if u.KeyFile != "" {
		cfg.KeyFile = expandHome(u.KeyFile)
	}
	if u.Port != 0 {
		cfg.Port = u.Port
	}
	return cfg
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
