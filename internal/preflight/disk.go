package preflight

import (
	"context"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

var diskKeys = []string{
	topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage,
	topology.KeyLogDiskSize, topology.KeyLogDiskPercentage,
}

// checkDisk evaluates every filesystem of one host once and records a
// shortage on all nodes that store data or log on it.
func checkDisk(_ context.Context, e *Env, nodes []*topology.Node) error {
	ip := nodes[0].IP
	f := e.HostFacts(ip)
	if f.IsDegraded(probe.FactDisk) {
		for _, n := range nodes {
			e.Ledger.Warn(n, ItemDisk, obperrors.FactUnavailable(probe.FactDisk, ip, f.Degraded[probe.FactDisk]).
				WithSuggestion("Make sure df runs for the deploy user"))
		}
	}

	for _, k := range e.Table.DiskKeys() {
		if k.IP != ip {
			continue
		}
		checkMount(e, k)
	}

	for _, n := range nodes {
		if err := e.Table.Unresolved(n); err != nil {
			e.Ledger.Warn(n, ItemDisk, obperrors.FactUnavailable(probe.FactMount, ip, err).
				WithSuggestion("Check that home_path, data_dir and redo_dir are set and their parents exist"))
			continue
		}
		nd, ok := e.Table.NodeDisk(n)
		if ok && nd.Shared() {
			e.Ledger.Alert(n, ItemDisk, obperrors.Newf(obperrors.ErrCodeDiskShared,
				"%s: data_dir and redo_dir share %s", n.ID(), nd.Data.Mount).
				WithSuggestion("Put redo_dir on a separate disk for steadier write latency"),
				topology.KeyRedoDir)
		}
	}
	return nil
}

func checkMount(e *Env, k resource.DiskKey) {
	m, ok := e.Table.Mount(k)
	if !ok {
		return
	}
	need := e.Table.Disk(k)
	if need <= m.Free() {
		return
	}
	err := obperrors.Newf(obperrors.ErrCodeDiskNotEnough,
		"%s: %s needs %s but %s is available", k.IP, k.Mount, need, m.Free()).
		WithDetail("mount", k.Mount).
		WithDetail("need", need.String()).
		WithSuggestion("Lower datafile_size or log_disk_size, or free space on " + k.Mount)

	seen := map[string]bool{}
	for _, c := range e.Table.DiskContributions(k) {
		if seen[c.Node.ID()] {
			continue
		}
		seen[c.Node.ID()] = true
		e.Ledger.Critical(c.Node, ItemDisk, err, diskKeys...)
	}
}
