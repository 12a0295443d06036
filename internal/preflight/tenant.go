package preflight

import (
	"context"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// tenantCapacity is what one storage node can still give to new tenants.
type tenantCapacity struct {
	memory   capacity.Bytes
	logDisk  capacity.Bytes
	logKnown bool
}

// checkTenants makes sure the storage cluster can host the management
// console's meta and monitor tenants next to the existing ones.
func checkTenants(_ context.Context, e *Env, nodes []*topology.Node) error {
	left, ok := clusterCapacity(e)
	if !ok {
		return nil
	}
	for _, n := range nodes {
		memNeed, logNeed, err := tenantNeed(n)
		if err != nil {
			e.Ledger.Critical(n, ItemTenant, obperrors.New(obperrors.ErrCodeInvalidInput, err.Error(), err).
				WithSuggestion("Fix the tenant size parameters"))
			continue
		}
		if memNeed > left.memory {
			e.Ledger.Error(n, ItemTenant, obperrors.Newf(obperrors.ErrCodeTenantResource,
				"%s: management tenants need %s of memory, the cluster has %s left", n.ID(), memNeed, left.memory).
				WithSuggestion("Raise memory_limit on the storage servers or lower the ocp tenant memory sizes"),
				topology.KeyMetaTenantMemorySize, topology.KeyMonitorTenantMemorySize)
		}
		if left.logKnown && logNeed > left.logDisk {
			e.Ledger.Error(n, ItemTenant, obperrors.Newf(obperrors.ErrCodeTenantResource,
				"%s: management tenants need %s of log disk, the cluster has %s left", n.ID(), logNeed, left.logDisk).
				WithSuggestion("Raise log_disk_size on the storage servers or lower the ocp tenant log disk sizes"),
				topology.KeyMetaTenantLogDiskSize, topology.KeyMonitorTenantLogDiskSize)
		}
	}
	return nil
}

func tenantNeed(n *topology.Node) (capacity.Bytes, capacity.Bytes, error) {
	var mem, logDisk capacity.Bytes
	for _, k := range []string{topology.KeyMetaTenantMemorySize, topology.KeyMonitorTenantMemorySize} {
		b, _, err := n.Capacity(k)
		if err != nil {
			return 0, 0, err
		}
		mem += b
	}
	for _, k := range []string{topology.KeyMetaTenantLogDiskSize, topology.KeyMonitorTenantLogDiskSize} {
		b, _, err := n.Capacity(k)
		if err != nil {
			return 0, 0, err
		}
		logDisk += b
	}
	return mem, logDisk, nil
}

// clusterCapacity returns the smallest headroom of any storage node, since
// every node hosts a replica of each tenant. ok is false when no storage
// node's limits are known.
func clusterCapacity(e *Env) (tenantCapacity, bool) {
	var reservedMem, reservedLog capacity.Bytes
	for _, t := range e.Tenants {
		reservedMem += t.Memory
		reservedLog += t.LogDisk
	}

	var out tenantCapacity
	found := false
	for _, n := range e.All {
		if n.Component != topology.OceanBase {
			continue
		}
		var total capacity.Bytes
		if f := e.HostFacts(n.IP); f.Memory != nil {
			total = f.Memory.Total
		}
		limit, ok, err := resource.MemoryDemand(n, total)
		if err != nil || !ok {
			continue
		}
		sys, _, _ := n.Capacity(topology.KeySystemMemory)
		sysTenant, _, _ := n.Capacity(topology.KeyMinPoolMemory)

		mem := capacity.Max(0, limit-sys-sysTenant-reservedMem)
		if !found || mem < out.memory {
			out.memory = mem
		}
		found = true

		if nd, ok := e.Table.NodeDisk(n); ok && nd.LogReq > 0 {
			logDisk := capacity.Max(0, nd.LogReq-reservedLog)
			if !out.logKnown || logDisk < out.logDisk {
				out.logDisk = logDisk
			}
			out.logKnown = true
		}
	}
	return out, found
}
