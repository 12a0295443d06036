package probe

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/transport"
)

// NativeProber reads facts of this machine through OS APIs and routes the
// rest to a ShellProber. Remote addresses always go to the shell.
type NativeProber struct {
	*ShellProber
}

// NewNativeProber wraps shell. shell must be able to reach every host.
func NewNativeProber(shell *ShellProber) *NativeProber {
	return &NativeProber{ShellProber: shell}
}

// Collect implements Prober.
func (n *NativeProber) Collect(ctx context.Context, ip string) (*Facts, error) {
	if !transport.IsLocalAddress(ip) {
		return n.ShellProber.Collect(ctx, ip)
	}
	return collect(ctx, ip, []collector{
		{FactMemory, n.readNativeMemory},
		{FactDisk, n.readNativeDisk},
		{FactCPU, readNativeCPU},
		{FactNet, readNativeDevices},
		{FactPorts, readNativeListening},
		{FactUlimit, n.readUlimits},
		{FactKernel, n.readSysctl},
		{FactAIO, n.readAIO},
	})
}

func (n *NativeProber) readNativeMemory(ctx context.Context, _ string, f *Facts) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	f.Memory = &Memory{
		Total:     capacity.Bytes(vm.Total),
		Free:      capacity.Bytes(vm.Free),
		Available: capacity.Bytes(vm.Available),
		Buffers:   capacity.Bytes(vm.Buffers),
		Cached:    capacity.Bytes(vm.Cached),
	}
	return nil
}

func (n *NativeProber) readNativeDisk(ctx context.Context, ip string, f *Facts) error {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	ms := map[string]Mount{}
	for _, p := range parts {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}
		ms[p.Mountpoint] = Mount{
			Path:  p.Mountpoint,
			Total: capacity.Bytes(u.Total),
			Used:  capacity.Bytes(u.Used),
			Avail: capacity.Bytes(u.Free),
		}
	}
	if len(ms) == 0 {
		return fmt.Errorf("no mounted filesystems")
	}
	n.setMounts(ip, f, ms)
	return nil
}

func readNativeCPU(ctx context.Context, _ string, f *Facts) error {
	c, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return err
	}
	f.CPUCores = c
	return nil
}

func readNativeDevices(ctx context.Context, _ string, f *Facts) error {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return err
	}
	f.Devices = f.Devices[:0]
	for _, i := range ifaces {
		f.Devices = append(f.Devices, i.Name)
	}
	return nil
}

func readNativeListening(ctx context.Context, _ string, f *Facts) error {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return err
	}
	for _, c := range conns {
		if c.Status == "LISTEN" {
			f.Listening[int(c.Laddr.Port)] = true
		}
	}
	return nil
}
