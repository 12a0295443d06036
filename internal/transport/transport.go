// Package transport runs shell commands on deployment hosts.
//
// Everything above this package talks to hosts through Executor only, so the
// probe and the checks can be driven by a fake in tests:
//
//	exec := transport.NewDispatcher(transport.NewSSHExecutor(cfg), transport.NewLocalExecutor())
//	res := exec.Execute(ctx, "10.0.0.1", "cat /proc/meminfo")
//	if !res.Success {
//	    // fact unavailable
//	}
package transport

import (
	"context"
	"net"
	"strings"
	"sync"
)

// Result is the outcome of one command.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set when the command could not be run at all.
	Err error
}

// Output returns trimmed stdout.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// Executor runs commands on a host addressed by IP.
type Executor interface {
	Execute(ctx context.Context, host, cmd string) Result
	IsLocalhost(host string) bool
	ReadFile(ctx context.Context, host, path string) ([]byte, error)
	WriteFile(ctx context.Context, host, path string, data []byte) error
}

// Dispatcher sends localhost commands to a local executor and everything
// else to a remote one.
type Dispatcher struct {
	remote Executor
	local  Executor
}

// NewDispatcher returns a Dispatcher. A nil local executor sends every
// command to remote.
func NewDispatcher(remote, local Executor) *Dispatcher {
	return &Dispatcher{remote: remote, local: local}
}

func (d *Dispatcher) pick(host string) Executor {
	if d.local != nil && IsLocalAddress(host) {
		return d.local
	}
	return d.remote
}

// Execute implements Executor.
func (d *Dispatcher) Execute(ctx context.Context, host, cmd string) Result {
	return d.pick(host).Execute(ctx, host, cmd)
}

// IsLocalhost implements Executor.
func (d *Dispatcher) IsLocalhost(host string) bool {
	return IsLocalAddress(host)
}

// ReadFile implements Executor.
func (d *Dispatcher) ReadFile(ctx context.Context, host, path string) ([]byte, error) {
	return d.pick(host).ReadFile(ctx, host, path)
}

// WriteFile implements Executor.
func (d *Dispatcher) WriteFile(ctx context.Context, host, path string, data []byte) error {
	return d.pick(host).WriteFile(ctx, host, path, data)
}

var (
	localAddrsOnce sync.Once
	localAddrs     map[string]bool
)

// IsLocalAddress reports whether host is a loopback address or one of this
// machine's interface addresses.
func IsLocalAddress(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	localAddrsOnce.Do(func() {
		localAddrs = map[string]bool{}
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				localAddrs[ipn.IP.String()] = true
			}
		}
	})
	return localAddrs[ip.String()]
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
