package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; the remaining flags let the server warn
// that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMChanged    bool
	STTChanged    bool
	QueuesChanged bool
	ServerChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.ServerChanged = true
	}

	if !reflect.DeepEqual(old.LLM, new.LLM) {
		d.LLMChanged = true
	}
	if old.STT != new.STT {
		d.STTChanged = true
	}
	if old.Queues != new.Queues || old.SettingsFile != new.SettingsFile {
		d.QueuesChanged = true
	}

	return d
}

// RequiresRestart reports whether any changed section cannot be hot-applied.
func (d ConfigDiff) RequiresRestart() bool {
	return d.LLMChanged || d.STTChanged || d.QueuesChanged || d.ServerChanged
}
