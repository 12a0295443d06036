// Package consolidate folds per-node configuration deltas into the smallest
// equivalent set of global and per-node values for one component.
package consolidate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/obplan/internal/capacity"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// Preference tells which value wins when a generated key is promoted.
type Preference int

const (
	// PreferEqual promotes only values identical on every node.
	PreferEqual Preference = iota
	// PreferMin promotes the smallest generated value.
	PreferMin
	// PreferMax promotes the largest generated value.
	PreferMax
)

// DefaultPreferences are the keys whose generated values may be unified.
var DefaultPreferences = map[string]Preference{
	topology.KeyMemoryLimit:          PreferMin,
	topology.KeyDatafileSize:         PreferMin,
	topology.KeySystemMemory:         PreferMin,
	topology.KeyCPUCount:             PreferMin,
	topology.KeyLogDiskUtilThreshold: PreferMax,
	topology.KeyDataDiskUsageLimit:   PreferMax,
}

// NodeDelta is what planning wrote to one node.
type NodeDelta struct {
	Node  *topology.Node
	Delta topology.Delta
	// Generated lists the keys of Delta the planner invented.
	Generated map[string]bool
}

// Result is the consolidated configuration of one component.
type Result struct {
	Global  topology.Delta
	PerNode map[string]topology.Delta
}

// Node returns the per-node values of n, never nil.
func (r *Result) Node(n *topology.Node) topology.Delta {
	if d, ok := r.PerNode[n.ID()]; ok {
		return d
	}
	return topology.Delta{}
}

// Empty reports whether nothing is left to write.
func (r *Result) Empty() bool {
	if len(r.Global) > 0 {
		return false
	}
	for _, d := range r.PerNode {
		if len(d) > 0 {
			return false
		}
	}
	return true
}

// Consolidate minimizes the deltas of one component's nodes with
// DefaultPreferences. Promoted values are applied back to every node.
func Consolidate(nodes []NodeDelta) *Result {
	return ConsolidateWith(nodes, DefaultPreferences)
}

// ConsolidateWith is Consolidate with explicit key preferences.
func ConsolidateWith(nodes []NodeDelta, prefs map[string]Preference) *Result {
	res := &Result{Global: topology.Delta{}, PerNode: map[string]topology.Delta{}}
	if len(nodes) == 0 {
		return res
	}
	for _, nd := range nodes {
		res.PerNode[nd.Node.ID()] = nd.Delta.Clone()
	}

	for _, key := range allKeys(nodes) {
		pref := prefs[key]
		if pref != PreferEqual && allGenerated(nodes, key) {
			v, ok := pick(nodes, key, pref)
			if ok {
				res.promote(nodes, key, v)
				continue
			}
		}
		if pref != PreferEqual && anyGenerated(nodes, key) {
			continue
		}
		if v, ok := identical(nodes, key); ok {
			res.promote(nodes, key, v)
		}
	}

	for id, d := range res.PerNode {
		if len(d) == 0 {
			delete(res.PerNode, id)
		}
	}
	slog.Debug("consolidated deltas",
		slog.Int("nodes", len(nodes)),
		slog.Any("global", res.Global.Keys()),
		slog.Int("per_node", len(res.PerNode)))
	return res
}

func (r *Result) promote(nodes []NodeDelta, key string, v any) {
	r.Global[key] = v
	for _, nd := range nodes {
		delete(r.PerNode[nd.Node.ID()], key)
		nd.Node.Set(key, v)
	}
}

func allKeys(nodes []NodeDelta) []string {
	seen := map[string]bool{}
	var keys []string
	for _, nd := range nodes {
		for k := range nd.Delta {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func allGenerated(nodes []NodeDelta, key string) bool {
	for _, nd := range nodes {
		if !nd.Generated[key] {
			return false
		}
	}
	return true
}

func anyGenerated(nodes []NodeDelta, key string) bool {
	for _, nd := range nodes {
		if nd.Generated[key] {
			return true
		}
	}
	return false
}

// identical returns the value of key when every node carries the same one.
func identical(nodes []NodeDelta, key string) (any, bool) {
	var first any
	for i, nd := range nodes {
		v, ok := nd.Delta[key]
		if !ok {
			return nil, false
		}
		if i == 0 {
			first = v
			continue
		}
		if fmt.Sprint(v) != fmt.Sprint(first) {
			return nil, false
		}
	}
	return first, true
}

// pick returns the smallest or largest value of key. Values that are not
// numeric or byte quantities cannot be ordered and block promotion.
func pick(nodes []NodeDelta, key string, pref Preference) (any, bool) {
	var best any
	var bestN capacity.Bytes
	for i, nd := range nodes {
		v := nd.Delta[key]
		n, err := capacity.FromValue(v)
		if err != nil {
			return nil, false
		}
		if i == 0 || (pref == PreferMin && n < bestN) || (pref == PreferMax && n > bestN) {
			best, bestN = v, n
		}
	}
	return best, true
}
