package topology

import (
	"path"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Component names a deployable service.
type Component string

// Supported components.
const (
	OceanBase  Component = "oceanbase-ce"
	OBProxy    Component = "obproxy-ce"
	OBAgent    Component = "obagent"
	OCPExpress Component = "ocp-express"
)

// Configuration keys read or written by the planner and the checks.
const (
	KeyHomePath = "home_path"
	KeyDataDir  = "data_dir"
	KeyRedoDir  = "redo_dir"
	KeyDevname  = "devname"

	KeyMemoryLimit           = "memory_limit"
	KeyMemoryLimitPercentage = "memory_limit_percentage"
	KeySystemMemory          = "system_memory"
	KeyCPUCount              = "cpu_count"
	KeyMinPoolMemory         = "__min_full_resource_pool_memory"

	KeyDatafileSize           = "datafile_size"
	KeyDatafileDiskPercentage = "datafile_disk_percentage"
	KeyLogDiskSize            = "log_disk_size"
	KeyLogDiskPercentage      = "log_disk_percentage"
	KeyLogDiskUtilThreshold   = "log_disk_utilization_threshold"
	KeyDataDiskUsageLimit     = "data_disk_usage_limit_percentage"

	KeyEnableSyslogRecycle = "enable_syslog_recycle"
	KeyMaxSyslogFileCount  = "max_syslog_file_count"
	KeyProductionMode      = "production_mode"

	KeyMySQLPort   = "mysql_port"
	KeyRPCPort     = "rpc_port"
	KeyOBShellPort = "obshell_port"

	KeyListenPort           = "listen_port"
	KeyPrometheusListenPort = "prometheus_listen_port"
	KeyRPCListenPort        = "rpc_listen_port"
	KeyProxyMemLimit        = "proxy_mem_limit"

	KeyMonagentHTTPPort = "monagent_http_port"
	KeyMgragentHTTPPort = "mgragent_http_port"

	KeyPort                     = "port"
	KeyMemorySize               = "memory_size"
	KeyMetaTenantMemorySize     = "ocp_meta_tenant_memory_size"
	KeyMetaTenantLogDiskSize    = "ocp_meta_tenant_log_disk_size"
	KeyMonitorTenantMemorySize  = "ocp_monitor_tenant_memory_size"
	KeyMonitorTenantLogDiskSize = "ocp_monitor_tenant_log_disk_size"

	KeyRootPassword         = "root_password"
	KeyProxyroPassword      = "proxyro_password"
	KeyObserverSysPassword  = "observer_sys_password"
	KeyObproxySysPassword   = "obproxy_sys_password"
	KeyAgentMonitorPassword = "ocp_agent_monitor_password"
	KeyMonitorPassword      = "monitor_password"
	KeyOCPMetaPassword      = "ocp_meta_password"
)

// PortKey is a listening port parameter, optionally gated on a minimum
// component version.
type PortKey struct {
	Key        string
	MinVersion *semver.Version
}

// Spec describes the parameters of one component that the engine cares about.
type Spec struct {
	Component Component
	// Defaults is the component's built-in value for unset keys.
	Defaults map[string]any
	// Ports lists the listening port parameters.
	Ports []PortKey
	// MemoryKey is the parameter holding the process memory bound, if any.
	MemoryKey string
	// DirKeys lists directory parameters that must be empty before start.
	DirKeys []string
	// derive fills defaults that depend on other resolved values.
	derive func(get func(string) (any, bool)) map[string]any
}

var specs = map[Component]*Spec{
	OceanBase: {
		Component: OceanBase,
		Defaults: map[string]any{
			KeyMySQLPort:              2881,
			KeyRPCPort:                2882,
			KeyOBShellPort:            2886,
			KeyMemoryLimitPercentage:  80,
			KeyDatafileDiskPercentage: 60,
			KeyLogDiskPercentage:      30,
			KeyEnableSyslogRecycle:    true,
			KeyMaxSyslogFileCount:     4,
			KeyProductionMode:         false,
			KeyMinPoolMemory:          "2G",
		},
		Ports: []PortKey{
			{Key: KeyMySQLPort},
			{Key: KeyRPCPort},
			{Key: KeyOBShellPort, MinVersion: semver.New("4.2.2")},
		},
		MemoryKey: KeyMemoryLimit,
		DirKeys:   []string{KeyHomePath, KeyDataDir, KeyRedoDir},
		derive: func(get func(string) (any, bool)) map[string]any {
			out := map[string]any{}
			home, _ := get(KeyHomePath)
			homePath, _ := home.(string)
			data, ok := get(KeyDataDir)
			if !ok && homePath != "" {
				data = path.Join(homePath, "store")
				out[KeyDataDir] = data
			}
			if _, ok := get(KeyRedoDir); !ok && data != nil {
				out[KeyRedoDir] = data
			}
			return out
		},
	},
	OBProxy: {
		Component: OBProxy,
		Defaults: map[string]any{
			KeyListenPort:           2883,
			KeyPrometheusListenPort: 2884,
			KeyRPCListenPort:        2885,
			KeyProxyMemLimit:        "2G",
		},
		Ports: []PortKey{
			{Key: KeyListenPort},
			{Key: KeyPrometheusListenPort},
			{Key: KeyRPCListenPort, MinVersion: semver.New("4.0.0")},
		},
		MemoryKey: KeyProxyMemLimit,
		DirKeys:   []string{KeyHomePath},
	},
	OBAgent: {
		Component: OBAgent,
		Defaults: map[string]any{
			KeyMonagentHTTPPort: 8088,
			KeyMgragentHTTPPort: 8089,
		},
		Ports: []PortKey{
			{Key: KeyMonagentHTTPPort},
			{Key: KeyMgragentHTTPPort},
		},
		DirKeys: []string{KeyHomePath},
	},
	OCPExpress: {
		Component: OCPExpress,
		Defaults: map[string]any{
			KeyPort:                     8180,
			KeyMemorySize:               "1G",
			KeyMetaTenantMemorySize:     "2G",
			KeyMetaTenantLogDiskSize:    "6G",
			KeyMonitorTenantMemorySize:  "2G",
			KeyMonitorTenantLogDiskSize: "6G",
		},
		Ports:     []PortKey{{Key: KeyPort}},
		MemoryKey: KeyMemorySize,
		DirKeys:   []string{KeyHomePath},
	},
}

// SpecFor returns the spec of c, or nil for an unknown component.
func SpecFor(c Component) *Spec {
	return specs[c]
}

// Known reports whether c is a supported component.
func Known(c Component) bool {
	_, ok := specs[c]
	return ok
}

// ParseVersion parses a component version. Four-part versions ("4.2.1.0")
// are truncated to their semver prefix and build suffixes ("-100000192024")
// are dropped; an unparsable version yields nil.
func ParseVersion(v string) *semver.Version {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+_ "); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	sv, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil
	}
	return sv
}
