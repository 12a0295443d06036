package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/obplan/configs"
	"github.com/Aman-CERP/obplan/internal/config"
)

// TopologyFileName is the topology written by init.
const TopologyFileName = "topology.yaml"

// newInitCmd creates the init command.
func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a sample topology and .obplan.yaml",
		Long: `Write a three zone sample topology and a commented .obplan.yaml to dir
(default: the current directory). Existing files are kept unless --force
is given, in which case they are backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, a, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files after a backup")

	return cmd
}

func runInit(cmd *cobra.Command, a *app, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	out := a.status(cmd)
	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{TopologyFileName, configs.TopologyTemplate, 0o644},
		{config.ProjectConfigName, configs.ProjectConfigTemplate, 0o600},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			if !force {
				out.Warningf("%s exists, keeping it (use --force to overwrite)", path)
				continue
			}
			backup, err := config.BackupFile(path)
			if err != nil {
				return err
			}
			out.Infof("backup written to %s", backup)
		}
		if err := os.WriteFile(path, []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		out.Successf("wrote %s", path)
	}

	out.Status("", "Edit the hosts in the topology, then run:")
	out.Code(fmt.Sprintf("obplan check %s\nobplan plan --write %s",
		filepath.Join(dir, TopologyFileName), filepath.Join(dir, TopologyFileName)))
	return nil
}
