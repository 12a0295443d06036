package preflight

import (
	"context"
	"fmt"
	"strings"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

const recommendedAIOMax = 1048576

// KernelRule is the accepted range of one sysctl parameter. Max zero means
// unbounded; Min equal to Max means an exact value.
type KernelRule struct {
	Key         string
	Min         int64
	Max         int64
	Recommended int64
}

// Accepts reports whether v is within the rule.
func (r KernelRule) Accepts(v int64) bool {
	return v >= r.Min && (r.Max == 0 || v <= r.Max)
}

// DefaultKernelRules returns the sysctl ranges storage hosts should meet.
func DefaultKernelRules() []KernelRule {
	return []KernelRule{
		{Key: "vm.max_map_count", Min: 327600, Max: 1310720, Recommended: 655360},
		{Key: "vm.min_free_kbytes", Min: 32768, Max: 2097152, Recommended: 2097152},
		{Key: "vm.overcommit_memory", Min: 0, Max: 0, Recommended: 0},
		{Key: "fs.file-max", Min: 6573688, Recommended: 6573688},
		{Key: "fs.aio-max-nr", Min: recommendedAIOMax, Recommended: recommendedAIOMax},
		{Key: "net.core.somaxconn", Min: 2048, Max: 16384, Recommended: 2048},
	}
}

// checkKernel reports every sysctl outside its range as one finding.
func checkKernel(_ context.Context, e *Env, nodes []*topology.Node) error {
	n := nodes[0]
	f := e.HostFacts(n.IP)
	if f.IsDegraded(probe.FactKernel) {
		e.Ledger.Warn(n, ItemKernel, obperrors.FactUnavailable(probe.FactKernel, n.IP, f.Degraded[probe.FactKernel]).
			WithSuggestion("Make sure sysctl runs for the deploy user"))
		return nil
	}

	var off, fixes []string
	for _, r := range e.Limits.Kernel {
		v, ok := f.Sysctl[r.Key]
		if !ok || r.Accepts(v) {
			continue
		}
		off = append(off, fmt.Sprintf("%s=%d", r.Key, v))
		fixes = append(fixes, fmt.Sprintf("%s = %d", r.Key, r.Recommended))
	}
	if len(off) == 0 {
		return nil
	}
	e.Ledger.AlertStrict(n, ItemKernel, obperrors.Newf(obperrors.ErrCodeKernel,
		"%s: kernel parameters out of range: %s", n.IP, strings.Join(off, ", ")).
		WithSuggestion(fmt.Sprintf("Set %s in /etc/sysctl.conf and run 'sysctl -p'", strings.Join(fixes, "; "))))
	return nil
}
