package preflight

import (
	"context"
	"errors"

	"github.com/coreos/go-semver/semver"

	"github.com/Aman-CERP/obplan/internal/topology"
)

var errNotProbed = errors.New("host was not probed")

// Scope is the unit an evaluator looks at in one call.
type Scope int

const (
	// ScopeNode evaluates one node at a time.
	ScopeNode Scope = iota
	// ScopeHost evaluates the applicable nodes of one host together.
	ScopeHost
	// ScopeDeployment evaluates every applicable node together.
	ScopeDeployment
)

// Evaluator reports findings for nodes into e.Ledger. It returns an error
// only when the pass must stop.
type Evaluator func(ctx context.Context, e *Env, nodes []*topology.Node) error

// Check is one catalogue entry.
type Check struct {
	Item  string
	Scope Scope
	// Components limits the check; empty means every component.
	Components []topology.Component
	// MinVersion skips nodes older than it. Unparsable versions are checked.
	MinVersion *semver.Version
	Eval       Evaluator
}

// Applies reports whether the check covers n.
func (c Check) Applies(n *topology.Node) bool {
	if len(c.Components) > 0 {
		found := false
		for _, comp := range c.Components {
			if comp == n.Component {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.MinVersion != nil {
		if v := n.SemVer(); v != nil && v.LessThan(*c.MinVersion) {
			return false
		}
	}
	return true
}

func (c Check) run(ctx context.Context, e *Env, nodes []*topology.Node) error {
	var applicable []*topology.Node
	for _, n := range nodes {
		if c.Applies(n) {
			applicable = append(applicable, n)
		}
	}
	if len(applicable) == 0 {
		return nil
	}
	switch c.Scope {
	case ScopeNode:
		for _, n := range applicable {
			if err := c.Eval(ctx, e, []*topology.Node{n}); err != nil {
				return err
			}
		}
		return nil
	case ScopeHost:
		for _, group := range byHost(applicable) {
			if err := c.Eval(ctx, e, group); err != nil {
				return err
			}
		}
		return nil
	default:
		return c.Eval(ctx, e, applicable)
	}
}

func byHost(nodes []*topology.Node) [][]*topology.Node {
	var groups [][]*topology.Node
	idx := map[string]int{}
	for _, n := range nodes {
		i, ok := idx[n.IP]
		if !ok {
			i = len(groups)
			idx[n.IP] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], n)
	}
	return groups
}

// DefaultCatalogue returns the checks in evaluation order.
func DefaultCatalogue() []Check {
	storage := []topology.Component{topology.OceanBase}
	return []Check{
		{Item: ItemPort, Scope: ScopeHost, Eval: checkPorts},
		{Item: ItemMem, Scope: ScopeHost, Components: []topology.Component{topology.OceanBase, topology.OBProxy, topology.OCPExpress}, Eval: checkMemory},
		{Item: ItemDisk, Scope: ScopeHost, Components: storage, Eval: checkDisk},
		{Item: ItemDir, Scope: ScopeNode, Eval: checkDirs},
		{Item: ItemUlimit, Scope: ScopeNode, Components: storage, Eval: checkUlimits},
		{Item: ItemAIO, Scope: ScopeNode, Components: storage, Eval: checkAIO},
		{Item: ItemKernel, Scope: ScopeNode, Components: storage, MinVersion: semver.New("4.0.0"), Eval: checkKernel},
		{Item: ItemNet, Scope: ScopeDeployment, Components: storage, Eval: checkNetwork},
		{Item: ItemNTP, Scope: ScopeDeployment, Eval: checkClock},
		{Item: ItemTenant, Scope: ScopeDeployment, Components: []topology.Component{topology.OCPExpress}, Eval: checkTenants},
	}
}
