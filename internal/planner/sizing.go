// Package planner fills the resource parameters an operator left unset with
// values derived from the hardware found on each host.
//
// The planner never overwrites an operator value, with one exception:
// cpu_count below the supported minimum is raised and warned about.
package planner

import (
	"github.com/Aman-CERP/obplan/internal/capacity"
)

// Tier maps a memory limit range to the share reserved for the system tenant.
type Tier struct {
	// Below is the exclusive upper bound of the tier; zero means no bound.
	Below   capacity.Bytes
	Percent int
}

// Sizing holds the constants of every sizing rule. The values are tuned to the
// storage engine's on-disk layout and are taken as given.
type Sizing struct {
	StartupMin          capacity.Bytes
	MinMemory           capacity.Bytes
	ProductionMinMemory capacity.Bytes
	// MemoryShare is the fraction of usable memory handed to an auto-sized node.
	MemoryShare float64

	SystemMemoryTiers []Tier
	SystemMemoryMin   capacity.Bytes

	MinCPU      int
	ReservedCPU int

	SyslogFileSize      capacity.Bytes
	SyslogKinds         int
	DefaultSyslogBudget capacity.Bytes
	PaddingPercent      int

	LogDiskFactor     int
	MinDataFactor     int
	SplitDataShare    float64
	LogUtilizationMax int
	DataUsageLimitMax int
	PasswordLength    int
	RoundUnit         capacity.Bytes
}

// DefaultSizing returns the production-tested constants.
func DefaultSizing() Sizing {
	return Sizing{
		StartupMin:          3 * capacity.GiB,
		MinMemory:           8 * capacity.GiB,
		ProductionMinMemory: 16 * capacity.GiB,
		MemoryShare:         0.9,

		SystemMemoryTiers: []Tier{
			{Below: 64 * capacity.GiB, Percent: 50},
			{Below: 150 * capacity.GiB, Percent: 40},
			{Percent: 30},
		},
		SystemMemoryMin: 4 * capacity.GiB,

		MinCPU:      16,
		ReservedCPU: 2,

		SyslogFileSize:      256 * capacity.MiB,
		SyslogKinds:         3,
		DefaultSyslogBudget: 3 * capacity.GiB,
		PaddingPercent:      2,

		LogDiskFactor:     4,
		MinDataFactor:     3,
		SplitDataShare:    0.64,
		LogUtilizationMax: 80,
		DataUsageLimitMax: 95,
		PasswordLength:    20,
		RoundUnit:         capacity.MiB,
	}
}

// SystemMemory returns the system-tenant reservation for a memory limit. It
// is never below SystemMemoryMin unless that would reach the limit itself, in
// which case half the limit is used.
func (s Sizing) SystemMemory(limit capacity.Bytes) capacity.Bytes {
	pct := 30
	for _, t := range s.SystemMemoryTiers {
		if t.Below == 0 || limit < t.Below {
			pct = t.Percent
			break
		}
	}
	sys := capacity.Max(s.SystemMemoryMin, limit.Percent(pct)).RoundDown(s.RoundUnit)
	if sys >= limit {
		sys = limit.Percent(50).RoundDown(s.RoundUnit)
	}
	return sys
}

// Floor is the smallest memory limit the planner may pick.
func (s Sizing) Floor(production bool, policyMin capacity.Bytes) capacity.Bytes {
	floor := s.MinMemory
	if policyMin > 0 {
		floor = policyMin
	}
	if production {
		floor = capacity.Max(floor, s.ProductionMinMemory)
	}
	return floor
}

// CPUCount returns the cpu_count for a host with cores logical CPUs.
func (s Sizing) CPUCount(cores int) int {
	if n := cores - s.ReservedCPU; n > s.MinCPU {
		return n
	}
	return s.MinCPU
}
