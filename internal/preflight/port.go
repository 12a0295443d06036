package preflight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// checkPorts fails nodes whose ports collide with another node on the same
// host or with a socket that is already listening.
func checkPorts(_ context.Context, e *Env, nodes []*topology.Node) error {
	ip := nodes[0].IP
	f := e.HostFacts(ip)
	claims := e.Table.Ports(ip)

	for _, n := range nodes {
		ports := n.Ports()
		keys := make([]string, 0, len(ports))
		for k := range ports {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		byPort := map[int][]string{}
		for _, key := range keys {
			byPort[ports[key]] = append(byPort[ports[key]], key)
		}

		for _, key := range keys {
			port := ports[key]
			if same := siblings(byPort[port], key); len(same) > 0 {
				e.Ledger.Critical(n, ItemPort, obperrors.Newf(obperrors.ErrCodePortConflict,
					"%s: %s %d is also set for %s", n.ID(), key, port, strings.Join(same, ", ")).
					WithDetail("port", fmt.Sprint(port)).
					WithSuggestion("Give "+key+" and "+strings.Join(same, ", ")+" different ports"), append([]string{key}, same...)...)
				continue
			}
			if other := others(claims[port], n); other != "" {
				e.Ledger.Critical(n, ItemPort, obperrors.Newf(obperrors.ErrCodePortConflict,
					"%s: %s %d is also used by %s", n.ID(), key, port, other).
					WithDetail("port", fmt.Sprint(port)).
					WithSuggestion("Give "+key+" a port no other node on "+ip+" uses"), key)
				continue
			}
			if f.Listening[port] {
				e.Ledger.Critical(n, ItemPort, obperrors.Newf(obperrors.ErrCodePortInUse,
					"%s: %s %d is already in use on %s", n.ID(), key, port, ip).
					WithDetail("port", fmt.Sprint(port)).
					WithSuggestion(fmt.Sprintf("Stop the process listening on %d or change %s", port, key)), key)
			}
		}
		if f.IsDegraded(probe.FactPorts) {
			e.Ledger.Warn(n, ItemPort, obperrors.FactUnavailable(probe.FactPorts, ip, f.Degraded[probe.FactPorts]).
				WithSuggestion("Make /proc/net/tcp readable for the deploy user"))
		}
	}
	return nil
}

// siblings returns the keys other than key that share its port.
func siblings(keys []string, key string) []string {
	var out []string
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

func others(owners []*topology.Node, self *topology.Node) string {
	out := ""
	seen := map[*topology.Node]bool{self: true}
	for _, o := range owners {
		if seen[o] {
			continue
		}
		seen[o] = true
		if out != "" {
			out += ", "
		}
		out += o.ID()
	}
	return out
}
