package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ValidationChanged is true when any engine default changed.
	ValidationChanged bool

	// RestartRequired names the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// The role table is baked into the engine at construction.
	oldVal, newVal := old.Validation, new.Validation
	oldVal.Roles, newVal.Roles = nil, nil
	if !reflect.DeepEqual(oldVal, newVal) {
		d.ValidationChanged = true
	}
	if !reflect.DeepEqual(old.Validation.Roles, new.Validation.Roles) {
		d.RestartRequired = append(d.RestartRequired, "validation.roles")
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, s := range []struct {
		name string
		a, b any
	}{
		{"server", oldServer, newServer},
		{"semantic", old.Semantic, new.Semantic},
		{"cache", old.Cache, new.Cache},
		{"scenes", old.Scenes, new.Scenes},
	} {
		if !reflect.DeepEqual(s.a, s.b) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
