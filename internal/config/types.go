package config

import "time"

// Config represents the complete nanny daemon configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Child   ChildConfig   `yaml:"child"`
	Journal JournalConfig `yaml:"journal,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core daemon settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// LockPath is an optional PID lock guarding against two supervisors
	// running the same child. Empty disables the lock.
	LockPath string `yaml:"lock_path,omitempty"`
}

// ChildConfig describes the supervised binary.
type ChildConfig struct {
	Executable string `yaml:"executable"`

	// ConfigFile and ConfigInline are mutually exclusive. A file path is
	// handed to the child as-is (the child watches it for changes); an
	// inline object is serialized to JSON and passed via the environment.
	ConfigFile   string         `yaml:"config_file,omitempty"`
	ConfigInline map[string]any `yaml:"config_inline,omitempty"`

	Args []string          `yaml:"args,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`

	// StartupTimeoutMS bounds the wait for the child's readiness message.
	// Omitted applies the supervisor default (5000); an explicit value <= 0
	// disables the timeout entirely.
	StartupTimeoutMS *int `yaml:"startup_timeout_ms,omitempty"`

	// TerminationEvents overrides the host-process termination triggers to
	// hook. Empty applies the supervisor default set.
	TerminationEvents []string `yaml:"termination_events,omitempty"`
}

// JournalConfig defines the event journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// APIConfig defines the HTTP status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// StartupTimeout translates the millisecond setting into the supervisor's
// pointer convention: nil means "use the default", a non-positive duration
// means "no timeout".
func (c ChildConfig) StartupTimeout() *time.Duration {
	if c.StartupTimeoutMS == nil {
		return nil
	}
	d := time.Duration(*c.StartupTimeoutMS) * time.Millisecond
	return &d
}
