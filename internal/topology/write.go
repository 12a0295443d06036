package topology

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
)

// ComponentDelta is the consolidated configuration written to one
// component. PerNode is keyed by node name.
type ComponentDelta struct {
	Component Component
	Global    Delta
	PerNode   map[string]Delta
}

// Empty reports whether the delta writes nothing.
func (c ComponentDelta) Empty() bool {
	if len(c.Global) > 0 {
		return false
	}
	for _, d := range c.PerNode {
		if len(d) > 0 {
			return false
		}
	}
	return true
}

// RenderDeltas encodes deltas in the topology layout, global block first
// and then one block per node in name order.
func RenderDeltas(deltas []ComponentDelta) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, cd := range deltas {
		if err := mergeComponent(root, cd); err != nil {
			return nil, err
		}
	}
	return encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}})
}

// MergeDeltas writes deltas into an existing topology document. Keys the
// delta does not mention keep their value, position and comments.
func MergeDeltas(data []byte, deltas []ComponentDelta) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, obperrors.TopologyError("failed to parse topology", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, obperrors.TopologyError("topology is not a mapping", nil)
	}
	root := doc.Content[0]
	for _, cd := range deltas {
		if lookup(root, string(cd.Component)) == nil {
			return nil, obperrors.TopologyError(fmt.Sprintf("topology has no %s block", cd.Component), nil)
		}
		if err := mergeComponent(root, cd); err != nil {
			return nil, err
		}
	}
	return encode(&doc)
}

func mergeComponent(root *yaml.Node, cd ComponentDelta) error {
	if cd.Empty() {
		return nil
	}
	block := mapping(root, string(cd.Component))
	if err := setAll(mapping(block, "global"), cd.Global); err != nil {
		return fmt.Errorf("%s global: %w", cd.Component, err)
	}

	names := make([]string, 0, len(cd.PerNode))
	for name := range cd.PerNode {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(cd.PerNode[name]) == 0 {
			continue
		}
		if err := setAll(mapping(block, name), cd.PerNode[name]); err != nil {
			return fmt.Errorf("%s %s: %w", cd.Component, name, err)
		}
	}
	return nil
}

func setAll(m *yaml.Node, d Delta) error {
	for _, key := range d.Keys() {
		var v yaml.Node
		if err := v.Encode(d[key]); err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		if existing := lookup(m, key); existing != nil {
			v.HeadComment, v.LineComment = existing.HeadComment, existing.LineComment
			*existing = v
			continue
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &v)
	}
	return nil
}

// lookup returns the value of key in mapping m.
func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// mapping returns the mapping under key, creating it when missing or
// replacing an empty scalar.
func mapping(m *yaml.Node, key string) *yaml.Node {
	if v := lookup(m, key); v != nil {
		if v.Kind != yaml.MappingNode {
			*v = yaml.Node{Kind: yaml.MappingNode}
		}
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

func encode(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	return buf.Bytes(), nil
}
