package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/transport"
	"github.com/Aman-CERP/obplan/internal/transport/transporttest"
)

const hostIP = "10.0.0.1"

const singleServer = `user:
  username: admin
  port: 2222
oceanbase-ce:
  version: 4.2.1.0
  servers:
    - name: server1
      ip: 10.0.0.1
  global:
    # operator settings
    home_path: /home/admin/observer
`

// meminfo builds /proc/meminfo with total and available memory in GiB.
func meminfo(totalGiB, availGiB int) string {
	kb := func(g int) string { return strconv.Itoa(g * 1024 * 1024) }
	return "MemTotal: " + kb(totalGiB) + " kB\n" +
		"MemFree: " + kb(availGiB) + " kB\n" +
		"MemAvailable: " + kb(availGiB) + " kB\n" +
		"Buffers: 0 kB\nCached: 0 kB\n"
}

const rootDF = "Filesystem 1024-blocks Used Available Capacity Mounted on\n/dev/sda1 524288000 0 524288000 0% /\n"

// scriptHost answers the probe commands of a host with totalGiB of memory
// and a 500G root filesystem.
func scriptHost(f *transporttest.Fake, ip string, totalGiB, availGiB int) {
	f.On(ip, probe.CmdMeminfo, meminfo(totalGiB, availGiB)).
		On(ip, probe.CmdDF, rootDF).
		OnPrefix(ip, probe.CmdDF+" '", rootDF).
		On(ip, probe.CmdCPU, "16\n").
		On(ip, probe.CmdDevices, "eth0\nlo\n").
		On(ip, probe.CmdListening, "").
		On(ip, probe.CmdUlimit, "655350\n655360\nunlimited\nunlimited\n").
		On(ip, "sysctl "+strings.Join(probe.DefaultSysctlKeys, " "), "vm.max_map_count = 655360\nfs.aio-max-nr = 1048576\n").
		On(ip, probe.CmdAIO, "1048576\n0\n").
		OnPrefix(ip, "ping ", "")
}

// testCLI is a root command wired to a scripted transport.
type testCLI struct {
	root   *cobra.Command
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	ssh    transport.SSHConfig
}

func newTestCLI(t *testing.T, fake *transporttest.Fake) *testCLI {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c := &testCLI{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	a := &app{newExecutor: func(cfg transport.SSHConfig) (transport.Executor, func() error) {
		c.ssh = cfg
		return fake, func() error { return nil }
	}}
	c.root = newRootCmd(a)
	c.root.SetOut(c.stdout)
	c.root.SetErr(c.stderr)
	return c
}

// run executes args with an empty config directory and returns the exit
// code.
func (c *testCLI) run(t *testing.T, args ...string) int {
	t.Helper()
	c.root.SetArgs(append([]string{"--config-dir", t.TempDir(), "--no-color"}, args...))
	return run(c.root, c.stderr)
}

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
