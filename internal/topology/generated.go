package topology

import (
	"fmt"
	"sync"
)

// Generated records the configuration keys the planner invented, at global
// (per component) and node scope. Once frozen it is read-only and safe to
// share with the checks.
type Generated struct {
	mu     sync.RWMutex
	frozen bool
	global map[Component]map[string]any
	nodes  map[string]map[string]any
}

// NewGenerated returns an empty set.
func NewGenerated() *Generated {
	return &Generated{
		global: map[Component]map[string]any{},
		nodes:  map[string]map[string]any{},
	}
}

// AddGlobal records key as generated for every node of component c.
func (g *Generated) AddGlobal(c Component, key string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mustBeOpen()
	if g.global[c] == nil {
		g.global[c] = map[string]any{}
	}
	g.global[c][key] = v
}

// AddNode records key as generated for node n only.
func (g *Generated) AddNode(n *Node, key string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mustBeOpen()
	id := n.ID()
	if g.nodes[id] == nil {
		g.nodes[id] = map[string]any{}
	}
	g.nodes[id][key] = v
}

// Freeze makes the set read-only. Further writes panic.
func (g *Generated) Freeze() *Generated {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()
	return g
}

func (g *Generated) mustBeOpen() {
	if g.frozen {
		panic("topology: write to frozen generated set")
	}
}

// IsGenerated reports whether key was generated for n at either scope.
func (g *Generated) IsGenerated(n *Node, key string) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[n.ID()][key]; ok {
		return true
	}
	_, ok := g.global[n.Component][key]
	return ok
}

// Conflicting reports whether key was generated for n at both scopes with
// different values.
func (g *Generated) Conflicting(n *Node, key string) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	lv, lok := g.nodes[n.ID()][key]
	gv, gok := g.global[n.Component][key]
	return lok && gok && fmt.Sprint(lv) != fmt.Sprint(gv)
}

// AutoFix reports whether every key could be rewritten for n without
// clobbering an operator value: none may be operator-declared and none may
// be conflictingly generated.
func (g *Generated) AutoFix(n *Node, keys ...string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if n.Declared(k) || g.Conflicting(n, k) {
			return false
		}
	}
	return true
}

// Keys returns the generated keys of n, node scope over global scope.
func (g *Generated) Keys(n *Node) Delta {
	out := Delta{}
	if g == nil {
		return out
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for k, v := range g.global[n.Component] {
		out[k] = v
	}
	for k, v := range g.nodes[n.ID()] {
		out[k] = v
	}
	return out
}
