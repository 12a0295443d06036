package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/obplan/internal/config"
	"github.com/Aman-CERP/obplan/internal/lock"
	"github.com/Aman-CERP/obplan/internal/pipeline"
	"github.com/Aman-CERP/obplan/internal/preflight"
	"github.com/Aman-CERP/obplan/internal/topology"
	"github.com/Aman-CERP/obplan/internal/ui"
)

// newPlanCmd creates the plan command.
func newPlanCmd(a *app) *cobra.Command {
	var write, wait, production bool

	cmd := &cobra.Command{
		Use:   "plan <topology.yaml>",
		Short: "Print the parameters obplan would set",
		Long: `Probe every host and plan the memory, disk and credential parameters
the topology leaves unset. The consolidated delta is printed in topology
layout, or merged into the topology file with --write after a backup.

Checks are not run; use 'obplan check' for that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, a, args[0], production, write, wait)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Merge the planned values into the topology file")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a running obplan on the same topology")
	cmd.Flags().BoolVar(&production, "production", false, "Plan with production memory floors")

	return cmd
}

func runPlan(cmd *cobra.Command, a *app, path string, production, write, wait bool) error {
	ctx := cmd.Context()
	mode := lock.Shared
	if write {
		mode = lock.Exclusive
	}

	s, err := a.open(ctx, path, mode, wait)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	policy := preflight.Policy{
		Production: a.cfg.Check.Production || production,
		MinMemory:  a.cfg.MinMemoryBytes(),
	}
	report, err := s.engine.Plan(ctx, s.deploy, a.options(policy, false))
	if err != nil {
		return err
	}
	a.writeMetrics(s)

	r := ui.NewPlanRenderer(a.ui(cmd))
	if a.json() {
		err = r.RenderJSON(ui.NewPlanReport(report))
	} else {
		err = r.Render(report)
	}
	if err != nil {
		return err
	}

	status := a.status(cmd)
	if report.Failed() {
		for _, rec := range report.Ledger.Failures() {
			status.Errorf("%s %s: %s", rec.NodeID, rec.Item, rec.Err.Message)
		}
		return errCheckFailed
	}
	if !write {
		return nil
	}
	if len(report.Deltas) == 0 {
		status.Info("nothing to write")
		return nil
	}

	backup, err := writePlan(path, report)
	if err != nil {
		return err
	}
	if backup != "" {
		status.Infof("backup written to %s", backup)
	}
	status.Successf("planned values written to %s", path)
	return nil
}

// writePlan merges the deltas of report into the topology at path and
// returns the backup taken first. The original is restored when the
// replacement cannot be put in place.
func writePlan(path string, report *pipeline.Report) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	merged, err := topology.MergeDeltas(data, report.Deltas)
	if err != nil {
		return "", err
	}

	backup, err := config.BackupFile(path)
	if err != nil {
		return "", err
	}
	if err := replaceFile(path, merged); err != nil {
		if backup != "" {
			if rerr := config.RestoreFile(backup, path); rerr != nil {
				slog.Error("restore_failed", slog.String("backup", backup), slog.String("error", rerr.Error()))
			}
		}
		return "", err
	}
	slog.Info("topology_written",
		slog.String("path", path),
		slog.String("run_id", report.RunID),
		slog.String("backup", backup))
	return backup, nil
}

// replaceFile writes data to a temporary sibling and renames it over path.
func replaceFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
