package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

// Delta is a set of configuration values to write at one scope.
type Delta map[string]any

// Clone returns a shallow copy of d.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the keys of d in sorted order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scope tells where a configuration value was declared by the operator.
type Scope int

const (
	// ScopeNone means the operator did not declare the key.
	ScopeNone Scope = iota
	// ScopeGlobal means the key comes from the component's global block.
	ScopeGlobal
	// ScopeNode means the key comes from the node's own override block.
	ScopeNode
)

// Node is one service instance on one host.
//
// Its configuration resolves as node overrides over global overrides over
// planned values, and the with-defaults view adds component defaults beneath
// all of them. Nodes live for one invocation only.
type Node struct {
	Name      string
	IP        string
	Component Component
	Version   string

	global  map[string]any
	local   map[string]any
	planned map[string]any
}

// NewNode creates a node from its operator-declared global and node-level
// configuration. Both maps are copied.
func NewNode(c Component, version, name, ip string, global, local map[string]any) *Node {
	n := &Node{
		Name:      name,
		IP:        ip,
		Component: c,
		Version:   version,
		global:    map[string]any{},
		local:     map[string]any{},
		planned:   map[string]any{},
	}
	for k, v := range global {
		n.global[k] = v
	}
	for k, v := range local {
		n.local[k] = v
	}
	return n
}

// ID identifies the node across components ("oceanbase-ce/server1").
func (n *Node) ID() string {
	return string(n.Component) + "/" + n.Name
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.ID(), n.IP)
}

// SemVer returns the parsed component version, or nil.
func (n *Node) SemVer() *semver.Version {
	return ParseVersion(n.Version)
}

// Spec returns the component spec of n.
func (n *Node) Spec() *Spec {
	return SpecFor(n.Component)
}

// DeclaredScope reports where the operator declared key.
func (n *Node) DeclaredScope(key string) Scope {
	if _, ok := n.local[key]; ok {
		return ScopeNode
	}
	if _, ok := n.global[key]; ok {
		return ScopeGlobal
	}
	return ScopeNone
}

// Declared reports whether the operator set key at any scope.
func (n *Node) Declared(key string) bool {
	return n.DeclaredScope(key) != ScopeNone
}

// Configured returns the value of key without component defaults.
func (n *Node) Configured(key string) (any, bool) {
	if v, ok := n.local[key]; ok {
		return v, true
	}
	if v, ok := n.global[key]; ok {
		return v, true
	}
	v, ok := n.planned[key]
	return v, ok
}

// Value returns the value of key in the with-defaults view.
func (n *Node) Value(key string) (any, bool) {
	if v, ok := n.Configured(key); ok {
		return v, true
	}
	spec := n.Spec()
	if spec == nil {
		return nil, false
	}
	if spec.derive != nil {
		if v, ok := spec.derive(n.Configured)[key]; ok {
			return v, true
		}
	}
	v, ok := spec.Defaults[key]
	return v, ok
}

// Set records a planned value for key. Operator-declared keys keep winning in
// the resolved view.
func (n *Node) Set(key string, v any) {
	n.planned[key] = v
}

// Override replaces an operator value at node scope. The key stays
// operator-declared.
func (n *Node) Override(key string, v any) {
	n.local[key] = v
}

// Unset removes a planned value.
func (n *Node) Unset(key string) {
	delete(n.planned, key)
}

// Apply writes every value of d as a planned value.
func (n *Node) Apply(d Delta) {
	for k, v := range d {
		n.Set(k, v)
	}
}

// Planned returns a copy of the values written by Set/Apply.
func (n *Node) Planned() Delta {
	return Delta(n.planned).Clone()
}

// StringValue returns key as a string in the with-defaults view.
func (n *Node) StringValue(key string) string {
	v, ok := n.Value(key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Int returns key as an integer in the with-defaults view.
func (n *Node) Int(key string) (int, bool) {
	v, ok := n.Value(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// Bool returns key as a boolean in the with-defaults view.
func (n *Node) Bool(key string) bool {
	v, ok := n.Value(key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		i, _ := toInt(v)
		return i != 0
	}
}

// Capacity returns key as a byte quantity in the with-defaults view.
// A zero value counts as unset, matching how the database treats it.
func (n *Node) Capacity(key string) (capacity.Bytes, bool, error) {
	v, ok := n.Value(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	b, err := capacity.FromValue(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %s: %w", n.ID(), key, err)
	}
	if b == 0 {
		return 0, false, nil
	}
	return b, true, nil
}

// ConfiguredCapacity is Capacity without component defaults.
func (n *Node) ConfiguredCapacity(key string) (capacity.Bytes, bool, error) {
	v, ok := n.Configured(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	b, err := capacity.FromValue(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %s: %w", n.ID(), key, err)
	}
	if b == 0 {
		return 0, false, nil
	}
	return b, true, nil
}

// ConfiguredInt is Int without component defaults. Zero counts as unset.
func (n *Node) ConfiguredInt(key string) (int, bool) {
	v, ok := n.Configured(key)
	if !ok {
		return 0, false
	}
	i, ok := toInt(v)
	if !ok || i == 0 {
		return 0, false
	}
	return i, true
}

// Ports returns the listening ports of n keyed by parameter, honoring
// version-gated port keys.
func (n *Node) Ports() map[string]int {
	spec := n.Spec()
	if spec == nil {
		return nil
	}
	ver := n.SemVer()
	out := map[string]int{}
	for _, pk := range spec.Ports {
		if pk.MinVersion != nil && ver != nil && ver.LessThan(*pk.MinVersion) {
			continue
		}
		if p, ok := n.Int(pk.Key); ok && p > 0 {
			out[pk.Key] = p
		}
	}
	return out
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		return int(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
