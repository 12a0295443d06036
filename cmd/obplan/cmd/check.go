package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/lock"
	"github.com/Aman-CERP/obplan/internal/preflight"
	"github.com/Aman-CERP/obplan/internal/ui"
)

type checkFlags struct {
	strict       bool
	production   bool
	permitUnsafe bool
	minMemory    string
	noPlan       bool
	wait         bool
}

// newCheckCmd creates the check command.
func newCheckCmd(a *app) *cobra.Command {
	var f checkFlags

	cmd := &cobra.Command{
		Use:   "check <topology.yaml>",
		Short: "Plan unset parameters and check the deployment against its hosts",
		Long: `Probe every host of the topology, plan the parameters left unset and
check the final configuration against live host state.

Exits with status 2 when any item fails. The planned values are not written;
use 'obplan plan --write' for that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, a, args[0], f)
		},
	}

	cmd.Flags().BoolVar(&f.strict, "strict", false, "Fail alert items instead of warning")
	cmd.Flags().BoolVar(&f.production, "production", false, "Apply production memory floors to every node")
	cmd.Flags().BoolVar(&f.permitUnsafe, "permit-unsafe", false, "Downgrade error items to warnings")
	cmd.Flags().StringVar(&f.minMemory, "min-memory", "", "Non-production memory floor per node (e.g. 8G)")
	cmd.Flags().BoolVar(&f.noPlan, "no-plan", false, "Check the configuration as written, for restarts and upgrades")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Wait for a running obplan on the same topology")

	return cmd
}

// policy merges command flags over the configured policy. Flags can only
// tighten or enable, never clear a configured setting.
func (f checkFlags) policy(a *app) (preflight.Policy, error) {
	c := a.cfg.Check
	p := preflight.Policy{
		Strict:       c.Strict || f.strict,
		Production:   c.Production || f.production,
		PermitUnsafe: c.PermitUnsafe || f.permitUnsafe,
		MinMemory:    a.cfg.MinMemoryBytes(),
	}
	if f.minMemory != "" {
		b, err := capacity.Parse(f.minMemory)
		if err != nil {
			return p, err
		}
		p.MinMemory = b
	}
	return p, nil
}

func runCheck(cmd *cobra.Command, a *app, path string, f checkFlags) error {
	ctx := cmd.Context()
	policy, err := f.policy(a)
	if err != nil {
		return err
	}

	s, err := a.open(ctx, path, lock.Shared, f.wait)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	report, err := s.engine.Precheck(ctx, s.deploy, a.options(policy, f.noPlan))
	if err != nil {
		return err
	}
	a.writeMetrics(s)

	r := ui.NewCheckRenderer(a.ui(cmd))
	rep := ui.NewCheckReport(report)
	if a.json() {
		err = r.RenderJSON(rep)
	} else {
		err = r.Render(rep)
	}
	if err != nil {
		return err
	}
	if report.Failed() {
		return errCheckFailed
	}
	return nil
}
