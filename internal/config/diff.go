package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running process; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level keys whose changes take effect only
	// after a restart, e.g. "detector" or "sinks".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Detector != new.Detector {
		d.RestartRequired = append(d.RestartRequired, "detector")
	}
	if !reflect.DeepEqual(old.Source, new.Source) {
		d.RestartRequired = append(d.RestartRequired, "source")
	}
	if !reflect.DeepEqual(old.Sinks, new.Sinks) {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}
	if old.Run != new.Run {
		d.RestartRequired = append(d.RestartRequired, "run")
	}
	return d
}
