package preflight

import (
	"context"
	"fmt"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

func below(v, limit int64) bool {
	return v != probe.Unlimited && v < limit
}

func limitsSuggestion(item string, value int64) string {
	return fmt.Sprintf("Add '* soft %s %d' and '* hard %s %d' to /etc/security/limits.d/obplan.conf and log in again",
		item, value, item, value)
}

// checkUlimits compares the login limits with what the nodes on the host
// will open between them.
func checkUlimits(_ context.Context, e *Env, nodes []*topology.Node) error {
	n := nodes[0]
	f := e.HostFacts(n.IP)
	if f.Ulimits == nil {
		e.Ledger.Warn(n, ItemUlimit, obperrors.FactUnavailable(probe.FactUlimit, n.IP, f.Degraded[probe.FactUlimit]).
			WithSuggestion("Make sure 'ulimit -a' runs for the deploy user"))
		return nil
	}
	u := f.Ulimits
	count := int64(max(1, e.Table.NodesOn(n.IP)))

	if need := e.Limits.NoFilePerNode * count; below(u.NoFile, need) {
		e.Ledger.Error(n, ItemUlimit, obperrors.Newf(obperrors.ErrCodeUlimit,
			"%s: open files limit %d is below %d", n.IP, u.NoFile, need).
			WithSuggestion(limitsSuggestion("nofile", e.Limits.NoFileRecommended)))
	}
	if below(u.NProc, e.Limits.NProcMin) {
		e.Ledger.Error(n, ItemUlimit, obperrors.Newf(obperrors.ErrCodeUlimit,
			"%s: max user processes %d is below %d", n.IP, u.NProc, e.Limits.NProcMin).
			WithSuggestion(limitsSuggestion("nproc", e.Limits.NProcMin)))
	}
	if below(u.NoFile, e.Limits.NoFileRecommended) {
		e.Ledger.Alert(n, ItemUlimit, obperrors.Newf(obperrors.ErrCodeUlimit,
			"%s: open files limit %d is below the recommended %d", n.IP, u.NoFile, e.Limits.NoFileRecommended).
			WithSuggestion(limitsSuggestion("nofile", e.Limits.NoFileRecommended)))
	}
	if below(u.Stack, e.Limits.StackMin) {
		e.Ledger.Alert(n, ItemUlimit, obperrors.Newf(obperrors.ErrCodeUlimit,
			"%s: stack size %d KiB is below %d KiB", n.IP, u.Stack, e.Limits.StackMin).
			WithSuggestion("Add '* soft stack unlimited' and '* hard stack unlimited' to /etc/security/limits.d/obplan.conf"))
	}
	if u.Core != probe.Unlimited {
		e.Ledger.Alert(n, ItemUlimit, obperrors.Newf(obperrors.ErrCodeUlimit,
			"%s: core file size is limited to %d", n.IP, u.Core).
			WithSuggestion("Add '* soft core unlimited' and '* hard core unlimited' to /etc/security/limits.d/obplan.conf"))
	}
	return nil
}

// checkAIO compares the free async-I/O requests with what the nodes on the
// host will submit.
func checkAIO(_ context.Context, e *Env, nodes []*topology.Node) error {
	n := nodes[0]
	f := e.HostFacts(n.IP)
	if f.AIO == nil {
		e.Ledger.Warn(n, ItemAIO, obperrors.FactUnavailable(probe.FactAIO, n.IP, f.Degraded[probe.FactAIO]).
			WithSuggestion("Make /proc/sys/fs/aio-max-nr and aio-nr readable"))
		return nil
	}
	need := e.Limits.AIOPerNode * int64(max(1, e.Table.NodesOn(n.IP)))
	if h := f.AIO.Headroom(); h < need {
		e.Ledger.Alert(n, ItemAIO, obperrors.Newf(obperrors.ErrCodeAIO,
			"%s: %d async I/O requests left, %d needed", n.IP, h, need).
			WithSuggestion(fmt.Sprintf("Run 'sysctl -w fs.aio-max-nr=%d' and persist it in /etc/sysctl.conf", max(recommendedAIOMax, f.AIO.Used+need))))
	}
	return nil
}
