package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/obplan/internal/probe"
)

// HostFacts is the machine-readable view of one probed host.
type HostFacts struct {
	*probe.Facts
	Degraded map[string]string `json:"degraded,omitempty"`
}

// NewHostFacts returns the hosts of facts in IP order.
func NewHostFacts(facts map[string]*probe.Facts) []HostFacts {
	ips := make([]string, 0, len(facts))
	for ip := range facts {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	out := make([]HostFacts, 0, len(ips))
	for _, ip := range ips {
		f := facts[ip]
		h := HostFacts{Facts: f}
		for fact, err := range f.Degraded {
			if h.Degraded == nil {
				h.Degraded = map[string]string{}
			}
			h.Degraded[fact] = err.Error()
		}
		out = append(out, h)
	}
	return out
}

// FactsRenderer displays probed host facts.
type FactsRenderer struct {
	cfg    Config
	styles Styles
}

// NewFactsRenderer creates a facts renderer.
func NewFactsRenderer(cfg Config) *FactsRenderer {
	return &FactsRenderer{cfg: cfg, styles: GetStyles(cfg.NoColor)}
}

// Render writes one row per host.
func (r *FactsRenderer) Render(hosts []HostFacts) error {
	rows := make([][]string, 0, len(hosts))
	for _, h := range hosts {
		rows = append(rows, []string{
			h.IP,
			cpu(h),
			memory(h),
			mounts(h),
			limits(h),
			aio(h),
			degraded(h),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.Border).
		Headers("HOST", "CPU", "MEMORY (usable/total)", "MOUNTS (free/total)", "NOFILE/NPROC", "AIO", "UNAVAILABLE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return base.Inherit(r.styles.Label)
			case col == 6:
				return base.Inherit(r.styles.Warning)
			default:
				return base
			}
		})
	_, err := fmt.Fprintln(r.cfg.Output, t.Render())
	return err
}

// RenderJSON writes the hosts as JSON.
func (r *FactsRenderer) RenderJSON(hosts []HostFacts) error {
	return WriteJSON(r.cfg.Output, hosts)
}

func cpu(h HostFacts) string {
	if h.CPUCores == 0 {
		return "-"
	}
	return strconv.Itoa(h.CPUCores)
}

func memory(h HostFacts) string {
	if h.Memory == nil {
		return "-"
	}
	return h.Memory.Usable().Human() + " / " + h.Memory.Total.Human()
}

func mounts(h HostFacts) string {
	var parts []string
	for _, p := range h.MountPaths() {
		m := h.Mounts[p]
		parts = append(parts, fmt.Sprintf("%s %s / %s", p, m.Free().Human(), m.Total.Human()))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "\n")
}

func limits(h HostFacts) string {
	if h.Ulimits == nil {
		return "-"
	}
	return limit(h.Ulimits.NoFile) + " / " + limit(h.Ulimits.NProc)
}

func limit(v int64) string {
	if v == probe.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}

func aio(h HostFacts) string {
	if h.AIO == nil {
		return "-"
	}
	return fmt.Sprintf("%d free of %d", h.AIO.Headroom(), h.AIO.Max)
}

func degraded(h HostFacts) string {
	if len(h.Degraded) == 0 {
		return ""
	}
	names := make([]string, 0, len(h.Degraded))
	for fact := range h.Degraded {
		names = append(names, fact)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
