// Package configs provides the templates written by `obplan init`.
//
// Templates are embedded at build time so every distribution carries them.
//
// Template files:
//   - obplan.example.yaml: tool settings written to .obplan.yaml
//   - topology.example.yaml: a starter deployment written to topology.yaml
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config ($XDG_CONFIG_HOME/obplan/config.yaml)
//  3. Project config (.obplan.yaml)
//  4. .env and OBPLAN_* environment variables
package configs

import _ "embed"

// ProjectConfigTemplate is the template for .obplan.yaml.
//
//go:embed obplan.example.yaml
var ProjectConfigTemplate string

// TopologyTemplate is a three zone cluster with one proxy.
//
//go:embed topology.example.yaml
var TopologyTemplate string
