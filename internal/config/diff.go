package config

import (
	"reflect"
	"sort"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are tracked individually; everything else lands in RequiresRestart
// so the operator can be told their edit will not take effect yet.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RoutingChanged is true when the active environment selection or any
	// environment spec changed. EnvChanges carries the per-environment
	// breakdown.
	RoutingChanged bool
	EnvChanges     []EnvDiff

	GovernorChanged bool
	SessionChanged  bool

	// RequiresRestart lists the dot-paths of changed fields that only
	// apply after a restart.
	RequiresRestart []string
}

// EnvDiff describes what changed for a single environment between two configs.
type EnvDiff struct {
	Name    string
	Added   bool
	Removed bool
	Changed bool
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RoutingChanged && !d.GovernorChanged &&
		!d.SessionChanged && len(d.RequiresRestart) == 0
}

// Diff compares two configs and returns what changed.
func Diff(prev, next *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if prev.Server.LogLevel != next.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = next.Server.LogLevel
	}

	// Active environment selection
	if prev.Environment != next.Environment {
		d.RoutingChanged = true
	}

	// Detect changed and removed environments.
	for name, prevEnv := range prev.Environments {
		nextEnv, exists := next.Environments[name]
		if !exists {
			d.EnvChanges = append(d.EnvChanges, EnvDiff{Name: name, Removed: true})
			d.RoutingChanged = true
			continue
		}
		if !reflect.DeepEqual(prevEnv, nextEnv) {
			d.EnvChanges = append(d.EnvChanges, EnvDiff{Name: name, Changed: true})
			d.RoutingChanged = true
		}
	}

	// Detect added environments.
	for name := range next.Environments {
		if _, exists := prev.Environments[name]; !exists {
			d.EnvChanges = append(d.EnvChanges, EnvDiff{Name: name, Added: true})
			d.RoutingChanged = true
		}
	}
	sort.Slice(d.EnvChanges, func(i, j int) bool {
		return d.EnvChanges[i].Name < d.EnvChanges[j].Name
	})

	// Governor and session tuning
	if !reflect.DeepEqual(prev.Governor, next.Governor) {
		d.GovernorChanged = true
	}
	if prev.Session != next.Session {
		d.SessionChanged = true
	}

	// Cold fields
	if prev.Server.ListenAddr != next.Server.ListenAddr {
		d.RequiresRestart = append(d.RequiresRestart, "server.listen_addr")
	}
	if !reflect.DeepEqual(prev.Providers, next.Providers) {
		d.RequiresRestart = append(d.RequiresRestart, "providers")
	}
	if prev.History != next.History {
		d.RequiresRestart = append(d.RequiresRestart, "history")
	}
	if !reflect.DeepEqual(prev.MCP, next.MCP) {
		d.RequiresRestart = append(d.RequiresRestart, "mcp")
	}

	return d
}
