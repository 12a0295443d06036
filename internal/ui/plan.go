package ui

import (
	"fmt"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/pipeline"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// PlanComponent is the machine-readable delta of one component.
type PlanComponent struct {
	Global map[string]any            `json:"global,omitempty"`
	Nodes  map[string]map[string]any `json:"nodes,omitempty"`
}

// PlanReport is the machine-readable outcome of a plan run.
type PlanReport struct {
	RunID      string                   `json:"run_id"`
	Components map[string]PlanComponent `json:"components"`
	Failures   int                      `json:"failures"`
}

// NewPlanReport builds the view of a planning pass.
func NewPlanReport(r *pipeline.Report) PlanReport {
	rep := PlanReport{RunID: r.RunID, Components: map[string]PlanComponent{}}
	for _, cd := range r.Deltas {
		pc := PlanComponent{Global: jsonDelta(cd.Global)}
		for name, d := range cd.PerNode {
			if len(d) == 0 {
				continue
			}
			if pc.Nodes == nil {
				pc.Nodes = map[string]map[string]any{}
			}
			pc.Nodes[name] = jsonDelta(d)
		}
		rep.Components[string(cd.Component)] = pc
	}
	if r.Ledger != nil {
		rep.Failures = len(r.Ledger.Failures())
	}
	return rep
}

// jsonDelta renders capacities in configuration form.
func jsonDelta(d topology.Delta) map[string]any {
	if len(d) == 0 {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		if b, ok := v.(capacity.Bytes); ok {
			out[k] = b.String()
			continue
		}
		out[k] = v
	}
	return out
}

// PlanRenderer displays planned configuration.
type PlanRenderer struct {
	cfg    Config
	styles Styles
}

// NewPlanRenderer creates a plan renderer.
func NewPlanRenderer(cfg Config) *PlanRenderer {
	return &PlanRenderer{cfg: cfg, styles: GetStyles(cfg.NoColor)}
}

// Render writes the deltas in topology layout so they can be pasted into
// the deployment file.
func (r *PlanRenderer) Render(rep *pipeline.Report) error {
	out := r.cfg.Output
	if len(rep.Deltas) == 0 {
		_, _ = fmt.Fprintln(out, r.styles.Dim.Render("# nothing to plan"))
		return nil
	}
	data, err := topology.RenderDeltas(rep.Deltas)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s\n", r.styles.Dim.Render("# planned by obplan, run "+rep.RunID))
	_, err = out.Write(data)
	return err
}

// RenderJSON writes the report as JSON.
func (r *PlanRenderer) RenderJSON(rep PlanReport) error {
	return WriteJSON(r.cfg.Output, rep)
}
