package planner

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/resource"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// diskPlacement is where one node's data and log live.
type diskPlacement struct {
	data, log    probe.Mount
	dataShare    capacity.Bytes
	logShare     capacity.Bytes
	dataDeclared bool
	logDeclared  bool
	declaredData capacity.Bytes
	declaredLog  capacity.Bytes
}

// SyslogBudget is the disk kept free for the observer's own logs.
func (s Sizing) SyslogBudget(n *topology.Node) capacity.Bytes {
	count, _ := n.Int(topology.KeyMaxSyslogFileCount)
	if n.Bool(topology.KeyEnableSyslogRecycle) && count > 0 {
		return capacity.Bytes(count) * s.SyslogFileSize * capacity.Bytes(s.SyslogKinds)
	}
	return s.DefaultSyslogBudget
}

func (s *plan) planDisk(ctx context.Context) error {
	if s.mounts == nil {
		return nil
	}
	if declaredDisk(s.n, topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage) &&
		declaredDisk(s.n, topology.KeyLogDiskSize, topology.KeyLogDiskPercentage) {
		return nil
	}
	f := s.facts()
	if f.IsDegraded(probe.FactDisk) {
		s.diag(ItemDisk, false, obperrors.FactUnavailable(probe.FactDisk, s.n.IP, f.Degraded[probe.FactDisk]).
			WithSuggestion("Set datafile_size and log_disk_size explicitly for this server"),
			topology.KeyDatafileSize, topology.KeyLogDiskSize)
		return nil
	}

	p, ok, err := s.placement(ctx)
	if err != nil || !ok {
		return err
	}
	if p.data.Path == p.log.Path {
		s.planSharedDisk(p)
	} else {
		s.planSplitDisk(p)
	}
	return nil
}

// declaredDisk reports whether the operator sized one disk parameter pair.
func declaredDisk(n *topology.Node, sizeKey, pctKey string) bool {
	return n.Declared(sizeKey) || n.Declared(pctKey)
}

// placement resolves the node's mounts and its share of each. ok is false
// when nothing can be planned; a diagnostic is recorded then.
func (s *plan) placement(ctx context.Context) (diskPlacement, bool, error) {
	var p diskPlacement
	dataDir := s.n.StringValue(topology.KeyDataDir)
	redoDir := s.n.StringValue(topology.KeyRedoDir)
	if dataDir == "" || redoDir == "" {
		return p, false, nil
	}
	var err error
	if p.data, err = s.mounts.ResolveMount(ctx, s.n.IP, dataDir); err == nil {
		p.log, err = s.mounts.ResolveMount(ctx, s.n.IP, redoDir)
	}
	if err != nil {
		if ctx.Err() != nil {
			return p, false, ctx.Err()
		}
		s.diag(ItemDisk, false, obperrors.FactUnavailable(probe.FactMount, s.n.IP, err),
			topology.KeyDatafileSize, topology.KeyLogDiskSize)
		return p, false, nil
	}

	if p.dataShare, err = s.mountShare(ctx, p.data); err != nil {
		return p, false, err
	}
	p.logShare = p.dataShare
	if p.log.Path != p.data.Path {
		if p.logShare, err = s.mountShare(ctx, p.log); err != nil {
			return p, false, err
		}
	}

	p.dataDeclared = declaredDisk(s.n, topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage)
	p.logDeclared = declaredDisk(s.n, topology.KeyLogDiskSize, topology.KeyLogDiskPercentage)
	if p.dataDeclared {
		if p.declaredData, err = resource.DiskDemand(s.n, topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage, p.data.Total); err != nil {
			s.diag(ItemDisk, true, obperrors.New(obperrors.ErrCodeInvalidInput, err.Error(), err), topology.KeyDatafileSize)
			return p, false, nil
		}
	}
	if p.logDeclared {
		if p.declaredLog, err = resource.DiskDemand(s.n, topology.KeyLogDiskSize, topology.KeyLogDiskPercentage, p.log.Total); err != nil {
			s.diag(ItemDisk, true, obperrors.New(obperrors.ErrCodeInvalidInput, err.Error(), err), topology.KeyLogDiskSize)
			return p, false, nil
		}
	}
	return p, true, nil
}

// mountShare is the free space of mount left to the planned node: what the
// declared disk of co-located storage nodes leaves, split evenly between the
// planned node and the co-located nodes that are still sized automatically.
func (s *plan) mountShare(ctx context.Context, mount probe.Mount) (capacity.Bytes, error) {
	free := mount.Free()
	sharers := 1
	for _, m := range s.req.CoTenants {
		if m.Component != topology.OceanBase || m == s.n || m.IP != s.n.IP {
			continue
		}
		auto := false
		for _, k := range []struct{ dir, size, pct string }{
			{topology.KeyDataDir, topology.KeyDatafileSize, topology.KeyDatafileDiskPercentage},
			{topology.KeyRedoDir, topology.KeyLogDiskSize, topology.KeyLogDiskPercentage},
		} {
			mm, err := s.mounts.ResolveMount(ctx, m.IP, m.StringValue(k.dir))
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if err != nil || mm.Path != mount.Path {
				continue
			}
			if !declaredDisk(m, k.size, k.pct) {
				auto = true
				continue
			}
			if d, err := resource.DiskDemand(m, k.size, k.pct, mount.Total); err == nil {
				free -= d
			}
		}
		if auto {
			sharers++
		}
	}
	return capacity.Max(0, free) / capacity.Bytes(sharers), nil
}

// planSharedDisk sizes data and log that live on one filesystem.
func (s *plan) planSharedDisk(p diskPlacement) {
	free := p.dataShare
	padding := s.sizing.SyslogBudget(s.n) + p.data.Total.Percent(s.sizing.PaddingPercent)

	logSize := p.declaredLog
	if !p.logDeclared {
		logSize = s.memLimit * capacity.Bytes(s.sizing.LogDiskFactor)
	}
	dataMin := p.declaredData
	if !p.dataDeclared {
		dataMin = s.memLimit * capacity.Bytes(s.sizing.MinDataFactor)
	}

	if padding+logSize+dataMin > free {
		if !s.retryShared(p, free, padding) {
			s.diag(ItemDisk, true, obperrors.Newf(obperrors.ErrCodeDiskNotEnough,
				"%s: %s needs %s but only %s is free for this server",
				s.n.IP, p.data.Path, padding+logSize+dataMin, free).
				WithDetail("mount", p.data.Path).
				WithSuggestion("Free disk space, lower memory_limit or move data_dir to a larger disk"),
				topology.KeyDatafileSize, topology.KeyLogDiskSize, topology.KeyMemoryLimit)
			return
		}
		logSize = s.memLimit * capacity.Bytes(s.sizing.LogDiskFactor)
	}

	if !p.logDeclared {
		s.set(topology.KeyLogDiskSize, logSize.RoundDown(s.sizing.RoundUnit))
	}
	if !p.dataDeclared {
		s.set(topology.KeyDatafileSize, (free - logSize).RoundDown(s.sizing.RoundUnit))
	}

	headroom := int(100 * (free - padding) / free)
	if !s.n.Declared(topology.KeyLogDiskUtilThreshold) {
		s.set(topology.KeyLogDiskUtilThreshold, min(s.sizing.LogUtilizationMax, headroom))
	}
	if !s.n.Declared(topology.KeyDataDiskUsageLimit) {
		s.set(topology.KeyDataDiskUsageLimit, min(s.sizing.DataUsageLimitMax, headroom))
	}
}

// retryShared shrinks an auto memory limit until log and minimum data fit
// next to the padding.
func (s *plan) retryShared(p diskPlacement, free, padding capacity.Bytes) bool {
	if !s.memAuto || p.logDeclared {
		return false
	}
	coef := s.sizing.LogDiskFactor
	fixed := padding
	if p.dataDeclared {
		fixed += p.declaredData
	} else {
		coef += s.sizing.MinDataFactor
	}
	if fixed >= free {
		return false
	}
	return s.shrinkMemory((free - fixed) / capacity.Bytes(coef))
}

// planSplitDisk sizes data and log that live on different filesystems.
func (s *plan) planSplitDisk(p diskPlacement) {
	if !p.dataDeclared {
		s.set(topology.KeyDatafileSize, p.dataShare.Mul(s.sizing.SplitDataShare).RoundDown(s.sizing.RoundUnit))
	}
	if p.logDeclared {
		return
	}
	logSize := s.memLimit * capacity.Bytes(s.sizing.LogDiskFactor)
	if logSize > p.logShare {
		if !s.shrinkMemory(p.logShare / capacity.Bytes(s.sizing.LogDiskFactor)) {
			s.diag(ItemDisk, true, obperrors.Newf(obperrors.ErrCodeDiskNotEnough,
				"%s: %s needs %s for the log but only %s is free for this server",
				s.n.IP, p.log.Path, logSize, p.logShare).
				WithDetail("mount", p.log.Path).
				WithSuggestion("Free disk space, lower memory_limit or move redo_dir to a larger disk"),
				topology.KeyLogDiskSize, topology.KeyMemoryLimit)
			return
		}
		logSize = s.memLimit * capacity.Bytes(s.sizing.LogDiskFactor)
		slog.Debug("log disk sized from shrunk memory",
			slog.String("node", s.n.ID()),
			slog.String("log_disk_size", logSize.String()))
	}
	s.set(topology.KeyLogDiskSize, logSize.RoundDown(s.sizing.RoundUnit))
}
