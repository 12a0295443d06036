// Package topology models a deployment: components, their nodes, the hosts
// they run on and the layered configuration of every node.
package topology

import (
	"fmt"
	"net"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
)

// User is the remote login used to reach every host.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	Port     int    `yaml:"port,omitempty"`
}

// Group is one component of a deployment with its nodes.
type Group struct {
	Component Component
	Version   string
	Depends   []Component
	Global    map[string]any
	Nodes     []*Node
}

// Host is a machine keyed by IP and the nodes it runs.
type Host struct {
	IP    string
	Nodes []*Node
}

// Deployment is the full target topology.
type Deployment struct {
	Name   string
	User   User
	Groups []*Group
}

// Group returns the group of component c, or nil.
func (d *Deployment) Group(c Component) *Group {
	for _, g := range d.Groups {
		if g.Component == c {
			return g
		}
	}
	return nil
}

// Has reports whether the deployment includes component c.
func (d *Deployment) Has(c Component) bool {
	return d.Group(c) != nil
}

// Nodes returns every node in declaration order.
func (d *Deployment) Nodes() []*Node {
	var out []*Node
	for _, g := range d.Groups {
		out = append(out, g.Nodes...)
	}
	return out
}

// Hosts groups nodes by IP in order of first appearance.
func (d *Deployment) Hosts() []*Host {
	var hosts []*Host
	idx := map[string]*Host{}
	for _, n := range d.Nodes() {
		h, ok := idx[n.IP]
		if !ok {
			h = &Host{IP: n.IP}
			idx[n.IP] = h
			hosts = append(hosts, h)
		}
		h.Nodes = append(h.Nodes, n)
	}
	return hosts
}

// CoTenants returns the nodes sharing n's host, n included.
func (d *Deployment) CoTenants(n *Node) []*Node {
	var out []*Node
	for _, m := range d.Nodes() {
		if m.IP == n.IP {
			out = append(out, m)
		}
	}
	return out
}

// Load reads a deployment from a YAML file.
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, obperrors.New(obperrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read topology %s", path), err)
	}
	return Parse(data)
}

type rawServer struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

func (s *rawServer) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.IP = node.Value
		s.Name = node.Value
		return nil
	}
	type plain rawServer
	return node.Decode((*plain)(s))
}

// Parse decodes a deployment in the layout operators already use:
//
//	user: {username: admin, key_file: ~/.ssh/id_rsa}
//	oceanbase-ce:
//	  version: 4.2.1.0
//	  servers: [{name: server1, ip: 10.0.0.1}, 10.0.0.2]
//	  global: {home_path: /home/admin/observer}
//	  server1: {memory_limit: 16G}
func Parse(data []byte) (*Deployment, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, obperrors.TopologyError("failed to parse topology", err)
	}

	d := &Deployment{}
	if u, ok := doc["user"]; ok {
		if err := u.Decode(&d.User); err != nil {
			return nil, obperrors.TopologyError("invalid user block", err)
		}
	}
	if n, ok := doc["name"]; ok {
		d.Name = n.Value
	}

	names := make([]string, 0, len(doc))
	for k := range doc {
		if k == "user" || k == "name" {
			continue
		}
		names = append(names, k)
	}
	// Map order is lost by the decoder; keep a stable, dependency-friendly order.
	sort.Slice(names, func(i, j int) bool { return componentRank(names[i]) < componentRank(names[j]) })

	for _, name := range names {
		c := Component(name)
		if !Known(c) {
			return nil, obperrors.TopologyError(fmt.Sprintf("unknown component %q", name), nil)
		}
		raw := doc[name]
		g, err := parseGroup(c, &raw)
		if err != nil {
			return nil, err
		}
		d.Groups = append(d.Groups, g)
	}

	if len(d.Groups) == 0 {
		return nil, obperrors.TopologyError("topology declares no components", nil)
	}
	return d, nil
}

func parseGroup(c Component, raw *yaml.Node) (*Group, error) {
	var body map[string]yaml.Node
	if err := raw.Decode(&body); err != nil {
		return nil, obperrors.TopologyError(fmt.Sprintf("%s: invalid block", c), err)
	}

	g := &Group{Component: c, Global: map[string]any{}}
	if v, ok := body["version"]; ok {
		g.Version = v.Value
	}
	if v, ok := body["depends"]; ok {
		var deps []string
		if err := v.Decode(&deps); err != nil {
			return nil, obperrors.TopologyError(fmt.Sprintf("%s: invalid depends", c), err)
		}
		for _, dep := range deps {
			g.Depends = append(g.Depends, Component(dep))
		}
	}
	if v, ok := body["global"]; ok {
		if err := v.Decode(&g.Global); err != nil {
			return nil, obperrors.TopologyError(fmt.Sprintf("%s: invalid global block", c), err)
		}
	}

	var servers []rawServer
	if v, ok := body["servers"]; ok {
		if err := v.Decode(&servers); err != nil {
			return nil, obperrors.TopologyError(fmt.Sprintf("%s: invalid servers", c), err)
		}
	}
	if len(servers) == 0 {
		return nil, obperrors.TopologyError(fmt.Sprintf("%s: no servers", c), nil)
	}

	seen := map[string]bool{}
	for _, s := range servers {
		if s.Name == "" {
			s.Name = s.IP
		}
		if net.ParseIP(s.IP) == nil {
			return nil, obperrors.TopologyError(fmt.Sprintf("%s: server %s has invalid ip %q", c, s.Name, s.IP), nil)
		}
		if seen[s.Name] {
			return nil, obperrors.TopologyError(fmt.Sprintf("%s: duplicate server name %s", c, s.Name), nil)
		}
		seen[s.Name] = true

		local := map[string]any{}
		if v, ok := body[s.Name]; ok {
			if err := v.Decode(&local); err != nil {
				return nil, obperrors.TopologyError(fmt.Sprintf("%s: invalid block for %s", c, s.Name), err)
			}
		}
		g.Nodes = append(g.Nodes, NewNode(c, g.Version, s.Name, s.IP, g.Global, local))
	}
	return g, nil
}

func componentRank(name string) int {
	switch Component(name) {
	case OceanBase:
		return 0
	case OBProxy:
		return 1
	case OBAgent:
		return 2
	case OCPExpress:
		return 3
	default:
		return 4
	}
}
