package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
child:
  executable: /usr/local/bin/app
  config_file: /etc/app/config.yaml
api:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nanny", cfg.Service.Name)
	assert.Equal(t, "INFO", cfg.Service.LogLevel)
	assert.Equal(t, "127.0.0.1:8530", cfg.API.Listen)
	assert.Nil(t, cfg.Child.StartupTimeoutMS)
	assert.Nil(t, cfg.Child.StartupTimeout())
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: app-supervisor
  log_level: DEBUG
  lock_path: /var/run/app-supervisor.pid
child:
  executable: /usr/local/bin/app
  config_file: /etc/app/config.yaml
  args: ["--verbose"]
  env:
    APP_MODE: production
  startup_timeout_ms: 10000
  termination_events: [exit, SIGTERM]
journal:
  path: /var/lib/app-supervisor/journal.db
api:
  enabled: true
  listen: 0.0.0.0:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "app-supervisor", cfg.Service.Name)
	assert.Equal(t, "DEBUG", cfg.Service.LogLevel)
	assert.Equal(t, []string{"--verbose"}, cfg.Child.Args)
	assert.Equal(t, "production", cfg.Child.Env["APP_MODE"])
	assert.Equal(t, []string{"exit", "SIGTERM"}, cfg.Child.TerminationEvents)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)

	require.NotNil(t, cfg.Child.StartupTimeout())
	assert.Equal(t, 10*time.Second, *cfg.Child.StartupTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "child: [\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRequiresExecutable(t *testing.T) {
	path := writeConfig(t, `
child:
  config_file: /etc/app/config.yaml
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "child.executable")
}

func TestValidateConfigSourceIsExclusive(t *testing.T) {
	_, err := Load(writeConfig(t, `
child:
  executable: /usr/local/bin/app
`))
	require.Error(t, err, "no config source")

	_, err = Load(writeConfig(t, `
child:
  executable: /usr/local/bin/app
  config_file: /etc/app/config.yaml
  config_inline:
    listen: ":0"
`))
	require.Error(t, err, "both config sources")
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateRejectsUnknownTerminationEvent(t *testing.T) {
	_, err := Load(writeConfig(t, `
child:
  executable: /usr/local/bin/app
  config_file: /etc/app/config.yaml
  termination_events: [SIGSTOP]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGSTOP")
}

func TestStartupTimeoutPointerConvention(t *testing.T) {
	var c ChildConfig
	assert.Nil(t, c.StartupTimeout(), "omitted means supervisor default")

	zero := 0
	c.StartupTimeoutMS = &zero
	require.NotNil(t, c.StartupTimeout())
	assert.Equal(t, time.Duration(0), *c.StartupTimeout(), "explicit zero disables the timeout")

	neg := -5
	c.StartupTimeoutMS = &neg
	require.NotNil(t, c.StartupTimeout())
	assert.Negative(t, *c.StartupTimeout())
}
