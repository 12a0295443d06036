package preflight

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// checkNetwork validates each node's device and then that every host
// reaches every other host over it.
func checkNetwork(ctx context.Context, e *Env, nodes []*topology.Node) error {
	var usable []*topology.Node
	for _, n := range nodes {
		if checkDevice(e, n) {
			usable = append(usable, n)
		}
	}
	if e.Prober == nil {
		return nil
	}

	ipSet := map[string]bool{}
	for _, n := range nodes {
		ipSet[n.IP] = true
	}
	if len(ipSet) < 2 {
		return nil
	}
	ips := make([]string, 0, len(ipSet))
	for ip := range ipSet {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	type route struct{ from, dev string }
	seen := map[route]bool{}
	var mu sync.Mutex
	unreachable := map[route][]string{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probe.DefaultConcurrency)
	for _, n := range usable {
		r := route{from: n.IP, dev: n.StringValue(topology.KeyDevname)}
		if seen[r] {
			continue
		}
		seen[r] = true
		for _, to := range ips {
			if to == r.from {
				continue
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !e.Prober.Ping(gctx, r.from, r.dev, to) {
					mu.Lock()
					unreachable[r] = append(unreachable[r], to)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, n := range usable {
		r := route{from: n.IP, dev: n.StringValue(topology.KeyDevname)}
		targets := unreachable[r]
		if len(targets) == 0 {
			continue
		}
		sort.Strings(targets)
		e.Ledger.Error(n, ItemNet, obperrors.Newf(obperrors.ErrCodeHostUnreachable,
			"%s: cannot reach %v over %s", n.IP, targets, r.dev).
			WithSuggestion("Check routes and firewalls between the hosts, or set devname to the interface that carries the cluster traffic"),
			topology.KeyDevname)
	}
	return nil
}

// checkDevice validates devname on n and reports whether it can be used for
// reachability tests.
func checkDevice(e *Env, n *topology.Node) bool {
	dev := n.StringValue(topology.KeyDevname)
	if dev == "" {
		return false
	}
	if local := e.IsLocal(n.IP); local != (dev == "lo") {
		msg := "%s: devname %s is the loopback device but %s is not local"
		if local {
			msg = "%s: devname %s is not the loopback device but %s is local"
		}
		e.Ledger.Critical(n, ItemNet, obperrors.Newf(obperrors.ErrCodeDeviceMismatch, msg, n.ID(), dev, n.IP).
			WithSuggestion("Use devname lo only for servers on 127.0.0.1"), topology.KeyDevname)
		return false
	}

	f := e.HostFacts(n.IP)
	if f.IsDegraded(probe.FactNet) {
		e.Ledger.Warn(n, ItemNet, obperrors.FactUnavailable(probe.FactNet, n.IP, f.Degraded[probe.FactNet]).
			WithSuggestion("Make sure 'ls /sys/class/net' runs for the deploy user"))
		return true
	}
	if !f.HasDevice(dev) {
		e.Ledger.Critical(n, ItemNet, obperrors.Newf(obperrors.ErrCodeDeviceNotFound,
			"%s: network device %s does not exist", n.ID(), dev).
			WithSuggestion("Set devname to one of: "+strings.Join(f.Devices, ", ")), topology.KeyDevname)
		return false
	}
	return true
}
