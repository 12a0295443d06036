// Package transporttest provides a scripted Executor for tests.
package transporttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Aman-CERP/obplan/internal/transport"
)

// Fake answers commands from a per-host script. Unscripted commands fail
// with exit code 127.
type Fake struct {
	mu       sync.Mutex
	replies  map[string]map[string]transport.Result
	prefixes map[string]map[string]transport.Result
	local    map[string]bool
	files    map[string][]byte
	calls    []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		replies:  map[string]map[string]transport.Result{},
		prefixes: map[string]map[string]transport.Result{},
		local:    map[string]bool{},
		files:    map[string][]byte{},
	}
}

// On scripts a successful reply to cmd on host.
func (f *Fake) On(host, cmd, stdout string) *Fake {
	return f.OnResult(host, cmd, transport.Result{Success: true, Stdout: stdout})
}

// OnPrefix scripts a successful reply to every command starting with prefix.
func (f *Fake) OnPrefix(host, prefix, stdout string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefixes[host] == nil {
		f.prefixes[host] = map[string]transport.Result{}
	}
	f.prefixes[host][prefix] = transport.Result{Success: true, Stdout: stdout}
	return f
}

// Fail scripts a failing reply to cmd on host.
func (f *Fake) Fail(host, cmd string) *Fake {
	return f.OnResult(host, cmd, transport.Result{ExitCode: 1, Stderr: "scripted failure"})
}

// OnResult scripts an arbitrary reply.
func (f *Fake) OnResult(host, cmd string, res transport.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies[host] == nil {
		f.replies[host] = map[string]transport.Result{}
	}
	f.replies[host][cmd] = res
	return f
}

// SetLocal marks host as this machine.
func (f *Fake) SetLocal(host string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local[host] = true
	return f
}

// Calls returns every "host: cmd" executed so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts executed commands on host starting with prefix.
func (f *Fake) CallCount(host, prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, host+": "+prefix) {
			n++
		}
	}
	return n
}

// Execute implements transport.Executor.
func (f *Fake) Execute(_ context.Context, host, cmd string) transport.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, host+": "+cmd)
	if res, ok := f.replies[host][cmd]; ok {
		return res
	}
	best := ""
	for p := range f.prefixes[host] {
		if strings.HasPrefix(cmd, p) && len(p) > len(best) {
			best = p
		}
	}
	if best != "" {
		return f.prefixes[host][best]
	}
	return transport.Result{ExitCode: 127, Stderr: "unscripted: " + cmd}
}

// IsLocalhost implements transport.Executor.
func (f *Fake) IsLocalhost(host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local[host]
}

// ReadFile implements transport.Executor.
func (f *Fake) ReadFile(_ context.Context, host, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[host+":"+path]
	if !ok {
		return nil, fmt.Errorf("%s: %s: no such file", host, path)
	}
	return data, nil
}

// WriteFile implements transport.Executor.
func (f *Fake) WriteFile(_ context.Context, host, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[host+":"+path] = append([]byte(nil), data...)
	return nil
}
