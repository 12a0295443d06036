package probe

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

// ParseMeminfo reads the fields of /proc/meminfo the planner needs.
func ParseMeminfo(out string) (*Memory, error) {
	vals := map[string]capacity.Bytes{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		unit := capacity.B
		if len(fields) > 1 && strings.EqualFold(fields[1], "kB") {
			unit = capacity.KiB
		}
		vals[key] = capacity.Bytes(n) * unit
	}

	total, ok := vals["MemTotal"]
	if !ok || total == 0 {
		return nil, fmt.Errorf("meminfo: MemTotal missing")
	}
	m := &Memory{
		Total:   total,
		Free:    vals["MemFree"],
		Buffers: vals["Buffers"],
		Cached:  vals["Cached"],
	}
	if avail, ok := vals["MemAvailable"]; ok {
		m.Available = avail
	} else {
		// Kernels before 3.14 lack MemAvailable.
		m.Available = m.Reclaimable()
	}
	return m, nil
}

// ParseDF reads POSIX df -Pk output into mounts keyed by mount point.
func ParseDF(out string) (map[string]Mount, error) {
	mounts := map[string]Mount{}
	sc := bufio.NewScanner(strings.NewReader(out))
	header := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if header {
			header = false
			if strings.HasPrefix(line, "Filesystem") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		total, err1 := strconv.ParseInt(fields[1], 10, 64)
		used, err2 := strconv.ParseInt(fields[2], 10, 64)
		avail, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		// Mount points may contain spaces; everything after the capacity column belongs to it.
		path := strings.Join(fields[5:], " ")
		mounts[path] = Mount{
			Path:  path,
			Total: capacity.Bytes(total) * capacity.KiB,
			Used:  capacity.Bytes(used) * capacity.KiB,
			Avail: capacity.Bytes(avail) * capacity.KiB,
		}
	}
	if len(mounts) == 0 {
		return nil, fmt.Errorf("df: no filesystems in output")
	}
	return mounts, nil
}

// ParseListening returns the TCP ports in LISTEN state from
// /proc/net/tcp and /proc/net/tcp6.
func ParseListening(out string) map[int]bool {
	ports := map[int]bool{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[3] != "0A" {
			continue
		}
		i := strings.LastIndex(fields[1], ":")
		if i < 0 {
			continue
		}
		p, err := strconv.ParseInt(fields[1][i+1:], 16, 32)
		if err != nil {
			continue
		}
		ports[int(p)] = true
	}
	return ports
}

// ParseUlimits reads the four lines of "ulimit -n; ulimit -u; ulimit -s; ulimit -c".
func ParseUlimits(out string) (*Ulimits, error) {
	lines := nonEmptyLines(out)
	if len(lines) < 4 {
		return nil, fmt.Errorf("ulimit: expected 4 values, got %d", len(lines))
	}
	vals := make([]int64, 4)
	for i := range vals {
		v, err := parseLimit(lines[i])
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return &Ulimits{NoFile: vals[0], NProc: vals[1], Stack: vals[2], Core: vals[3]}, nil
}

func parseLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "unlimited" {
		return Unlimited, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ulimit: bad value %q", s)
	}
	return v, nil
}

// ParseSysctl reads "key = value" lines. Multi-value keys keep their first
// number.
func ParseSysctl(out string) map[string]int64 {
	vals := map[string]int64{}
	for _, line := range nonEmptyLines(out) {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields := strings.Fields(val)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		vals[strings.TrimSpace(key)] = v
	}
	return vals
}

// ParseAIO reads aio-max-nr then aio-nr.
func ParseAIO(out string) (*AIO, error) {
	lines := nonEmptyLines(out)
	if len(lines) < 2 {
		return nil, fmt.Errorf("aio: expected 2 values, got %d", len(lines))
	}
	maxNR, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("aio: bad aio-max-nr %q", lines[0])
	}
	nr, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("aio: bad aio-nr %q", lines[1])
	}
	return &AIO{Max: maxNR, Used: nr}, nil
}

// ParseDirState reads the two-line output of dirStateScript.
func ParseDirState(out string) (DirState, error) {
	lines := nonEmptyLines(out)
	if len(lines) < 2 {
		return DirState{}, fmt.Errorf("dir state: unexpected output %q", out)
	}
	var st DirState
	switch lines[0] {
	case "absent":
	case "empty":
		st.Exists, st.Empty = true, true
	case "nonempty":
		st.Exists = true
	default:
		return DirState{}, fmt.Errorf("dir state: unexpected %q", lines[0])
	}
	st.ParentWritable = lines[1] == "writable"
	return st, nil
}

func nonEmptyLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
