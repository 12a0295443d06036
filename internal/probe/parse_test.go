package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

const meminfo = `MemTotal:       33554432 kB
MemFree:         4194304 kB
MemAvailable:   20971520 kB
Buffers:         1048576 kB
Cached:         16777216 kB
SwapCached:            0 kB
`

func TestParseMeminfo(t *testing.T) {
	m, err := ParseMeminfo(meminfo)
	require.NoError(t, err)

	assert.Equal(t, 32*capacity.GiB, m.Total)
	assert.Equal(t, 4*capacity.GiB, m.Free)
	assert.Equal(t, 20*capacity.GiB, m.Available)
	assert.Equal(t, 21*capacity.GiB, m.Reclaimable())
	assert.Equal(t, 20*capacity.GiB, m.Usable())
}

func TestParseMeminfo_NoAvailable(t *testing.T) {
	// Given: an old kernel without MemAvailable
	m, err := ParseMeminfo("MemTotal: 8388608 kB\nMemFree: 1048576 kB\nBuffers: 0 kB\nCached: 1048576 kB\n")
	require.NoError(t, err)

	// Then: available falls back to reclaimable memory
	assert.Equal(t, 2*capacity.GiB, m.Available)
}

func TestParseMeminfo_Missing(t *testing.T) {
	_, err := ParseMeminfo("garbage")
	assert.Error(t, err)
}

const dfOutput = `Filesystem     1024-blocks      Used Available Capacity Mounted on
/dev/sda1        104857600  10485760  94371840      10% /
/dev/sdb1        209715200 104857600 104857600      50% /data
tmpfs              1048576         0   1048576       0% /mnt/my disk
`

func TestParseDF(t *testing.T) {
	ms, err := ParseDF(dfOutput)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	root := ms["/"]
	assert.Equal(t, 100*capacity.GiB, root.Total)
	assert.Equal(t, 10*capacity.GiB, root.Used)
	assert.Equal(t, 90*capacity.GiB, root.Avail)
	assert.Equal(t, 90*capacity.GiB, root.Free())

	_, ok := ms["/mnt/my disk"]
	assert.True(t, ok, "mount points with spaces")
}

func TestParseDF_Empty(t *testing.T) {
	_, err := ParseDF("Filesystem 1024-blocks Used Available Capacity Mounted on\n")
	assert.Error(t, err)
}

func TestParseListening(t *testing.T) {
	out := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0B41 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 12345 1
   1: 0100007F:0B42 0100007F:A1B2 01 00000000:00000000 00:00000000 00000000     0        0 12346 1
  sl  local_address                         remote_address                        st tx_queue rx_queue
   0: 00000000000000000000000000000000:1F90 00000000000000000000000000000000:0000 0A 00000000:00000000
`
	ports := ParseListening(out)

	assert.True(t, ports[2881])
	assert.False(t, ports[2882], "established sockets are not listening")
	assert.True(t, ports[8080])
}

func TestParseUlimits(t *testing.T) {
	u, err := ParseUlimits("655350\n120000\n10240\nunlimited\n")
	require.NoError(t, err)

	assert.Equal(t, int64(655350), u.NoFile)
	assert.Equal(t, int64(120000), u.NProc)
	assert.Equal(t, int64(10240), u.Stack)
	assert.Equal(t, Unlimited, u.Core)

	_, err = ParseUlimits("1024\n")
	assert.Error(t, err)
}

func TestParseSysctl(t *testing.T) {
	vals := ParseSysctl("vm.max_map_count = 655360\nnet.ipv4.ip_local_port_range = 3500\t65535\nbroken line\n")

	assert.Equal(t, int64(655360), vals["vm.max_map_count"])
	assert.Equal(t, int64(3500), vals["net.ipv4.ip_local_port_range"])
	assert.Len(t, vals, 2)
}

func TestParseAIO(t *testing.T) {
	a, err := ParseAIO("1048576\n2048\n")
	require.NoError(t, err)
	assert.Equal(t, int64(1046528), a.Headroom())

	_, err = ParseAIO("x\ny\n")
	assert.Error(t, err)
}

func TestParseDirState(t *testing.T) {
	tests := []struct {
		out  string
		want DirState
	}{
		{"absent\nwritable\n", DirState{ParentWritable: true}},
		{"empty\nwritable\n", DirState{Exists: true, Empty: true, ParentWritable: true}},
		{"nonempty\nreadonly\n", DirState{Exists: true}},
	}

	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			st, err := ParseDirState(tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st)
		})
	}

	_, err := ParseDirState("weird\n")
	assert.Error(t, err)
}
