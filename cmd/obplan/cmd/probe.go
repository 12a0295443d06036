package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/obplan/internal/lock"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/ui"
)

// newProbeCmd creates the probe command.
func newProbeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <topology.yaml>",
		Short: "Print the facts collected from every host",
		Long: `Collect memory, disks, CPU, network devices, OS limits, kernel
parameters and async I/O capacity from every host of the topology.

Facts that cannot be read are listed as unavailable; they never fail the
command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, a, args[0])
		},
	}
	return cmd
}

func runProbe(cmd *cobra.Command, a *app, path string) error {
	ctx := cmd.Context()
	s, err := a.open(ctx, path, lock.Shared, false)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var ips []string
	for _, h := range s.deploy.Hosts() {
		ips = append(ips, h.IP)
	}
	facts, err := probe.CollectAll(ctx, s.prober, ips, a.cfg.Probe.Concurrency)
	if facts == nil {
		return err
	}
	if err != nil {
		slog.Warn("facts_degraded", slog.String("error", err.Error()))
	}

	r := ui.NewFactsRenderer(a.ui(cmd))
	hosts := ui.NewHostFacts(facts)
	if a.json() {
		return r.RenderJSON(hosts)
	}
	return r.Render(hosts)
}
