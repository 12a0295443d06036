package preflight

import (
	"context"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// checkClock samples every host's clock and fails all nodes when the
// spread exceeds the threshold.
func checkClock(ctx context.Context, e *Env, nodes []*topology.Node) error {
	if e.Prober == nil {
		return nil
	}
	var ips []string
	seen := map[string]bool{}
	for _, n := range nodes {
		if !seen[n.IP] {
			seen[n.IP] = true
			ips = append(ips, n.IP)
		}
	}
	if len(ips) < 2 {
		return nil
	}

	spread, err := probe.ClockSkew(ctx, e.Prober, ips)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		sampled := map[string]bool{}
		for _, s := range spread.Samples {
			sampled[s.IP] = true
		}
		for _, n := range nodes {
			if !sampled[n.IP] {
				e.Ledger.Warn(n, ItemNTP, obperrors.FactUnavailable(probe.FactClock, n.IP, err).
					WithSuggestion("Make sure 'date' runs for the deploy user"))
			}
		}
	}
	if len(spread.Samples) < 2 || spread.Spread() <= e.Limits.ClockThreshold {
		return nil
	}

	skew := obperrors.Newf(obperrors.ErrCodeClockSkew,
		"clocks differ by %s across hosts, the limit is %s", spread.Spread(), e.Limits.ClockThreshold).
		WithDetail("spread", spread.Spread().String()).
		WithSuggestion("Synchronize every host against the same NTP source with chronyd or ntpd")
	for _, n := range nodes {
		e.Ledger.Critical(n, ItemNTP, skew)
	}
	return nil
}
