package preflight

import (
	"context"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// memoryKeys are the parameters that decide how much memory n claims.
func memoryKeys(n *topology.Node) []string {
	if n.Component == topology.OceanBase {
		return []string{topology.KeyMemoryLimit, topology.KeyMemoryLimitPercentage}
	}
	if spec := n.Spec(); spec != nil && spec.MemoryKey != "" {
		return []string{spec.MemoryKey}
	}
	return nil
}

// checkMemory compares the summed demand of one host with what it has free.
func checkMemory(_ context.Context, e *Env, nodes []*topology.Node) error {
	ip := nodes[0].IP
	f := e.HostFacts(ip)

	if f.Memory == nil {
		for _, n := range nodes {
			e.Ledger.Warn(n, ItemMem, obperrors.FactUnavailable(probe.FactMemory, ip, f.Degraded[probe.FactMemory]).
				WithSuggestion("Make /proc/meminfo readable for the deploy user"))
		}
	} else {
		checkHostMemory(e, nodes, f.Memory)
	}

	for _, n := range nodes {
		if n.Component == topology.OceanBase {
			checkMemoryLimits(e, n, f)
		}
	}
	return nil
}

func checkHostMemory(e *Env, nodes []*topology.Node, m *probe.Memory) {
	ip := nodes[0].IP
	observers := 0
	for _, n := range nodes {
		if n.Component == topology.OceanBase {
			observers++
		}
	}

	if need := e.Limits.StartupMemory * capacity.Bytes(observers); m.Available < need {
		err := obperrors.Newf(obperrors.ErrCodeMemoryNotEnough,
			"%s: %s available, %d server(s) need at least %s to start", ip, m.Available, observers, need).
			WithSuggestion("Free memory on the host or move servers to other hosts")
		for _, n := range nodes {
			e.Ledger.Critical(n, ItemMem, err, memoryKeys(n)...)
		}
		return
	}

	demand := e.Table.Memory(ip)
	switch {
	case m.Reclaimable() < demand:
		err := obperrors.Newf(obperrors.ErrCodeMemoryCached,
			"%s: free and cached memory %s is below the %s the nodes need", ip, m.Reclaimable(), demand).
			WithDetail("demand", demand.String()).
			WithSuggestion("Lower memory_limit or memory_limit_percentage, or drop page cache with 'echo 3 > /proc/sys/vm/drop_caches'")
		for _, n := range nodes {
			e.Ledger.Error(n, ItemMem, err, memoryKeys(n)...)
		}
	case m.Free < demand:
		err := obperrors.Newf(obperrors.ErrCodeMemoryFree,
			"%s: free memory %s is below the %s the nodes need", ip, m.Free, demand).
			WithSuggestion("Drop page cache with 'echo 3 > /proc/sys/vm/drop_caches'")
		for _, n := range nodes {
			e.Ledger.Alert(n, ItemMem, err, memoryKeys(n)...)
		}
	}
}

// checkMemoryLimits validates one storage node's limit and system reserve.
func checkMemoryLimits(e *Env, n *topology.Node, f *probe.Facts) {
	var total capacity.Bytes
	if f.Memory != nil {
		total = f.Memory.Total
	}
	limit, ok, err := resource.MemoryDemand(n, total)
	if err != nil {
		e.Ledger.Critical(n, ItemMem, obperrors.New(obperrors.ErrCodeInvalidInput, err.Error(), err).
			WithSuggestion("Fix the memory_limit value"), topology.KeyMemoryLimit)
		return
	}
	if !ok {
		return
	}

	policy := e.Ledger.Policy()
	if e.Ledger.production(n) {
		if floor := capacity.Max(e.Limits.ProductionMemory, policy.MinMemory); limit < floor {
			e.Ledger.Error(n, ItemMem, obperrors.Newf(obperrors.ErrCodeProductionMemory,
				"%s: memory_limit %s is below the production minimum %s", n.ID(), limit, floor).
				WithSuggestion("Raise memory_limit to at least "+floor.String()+" or disable production_mode"),
				topology.KeyMemoryLimit)
		}
	} else if policy.MinMemory > 0 && limit < policy.MinMemory {
		e.Ledger.Alert(n, ItemMem, obperrors.Newf(obperrors.ErrCodeMemoryNotEnough,
			"%s: memory_limit %s is below the configured minimum %s", n.ID(), limit, policy.MinMemory).
			WithSuggestion("Raise memory_limit to at least "+policy.MinMemory.String()),
			topology.KeyMemoryLimit)
	}

	sys, ok, err := n.Capacity(topology.KeySystemMemory)
	if err != nil || !ok {
		return
	}
	switch {
	case sys >= limit:
		e.Ledger.Critical(n, ItemMem, obperrors.Newf(obperrors.ErrCodeSystemMemory,
			"%s: system_memory %s must be below memory_limit %s", n.ID(), sys, limit).
			WithSuggestion("Lower system_memory or raise memory_limit"),
			topology.KeySystemMemory)
	case sys > limit.Percent(e.Limits.SystemMemoryRatio):
		e.Ledger.Alert(n, ItemMem, obperrors.Newf(obperrors.ErrCodeSystemMemory,
			"%s: system_memory %s leaves little of memory_limit %s for tenants", n.ID(), sys, limit).
			WithSuggestion("Keep system_memory below "+limit.Percent(e.Limits.SystemMemoryRatio).String()),
			topology.KeySystemMemory)
	}
}
