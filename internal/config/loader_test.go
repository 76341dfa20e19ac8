package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gantry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  log_level: debug
executor:
  state_dir: /tmp/gantry-test
merger:
  connections:
    gerrit:
      hostname: git.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gantry", cfg.Service.Name)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, 4730, cfg.Broker.Port)
	assert.Equal(t, "zuul", cfg.Executor.DefaultUsername)
	assert.Equal(t, 79, cfg.Executor.FingerPort)
	assert.Equal(t, "passthrough", cfg.Executor.ExecutionWrapper)
	assert.Equal(t, "/tmp/gantry-test/builds", cfg.Executor.JobDirRoot)
	assert.Equal(t, "/tmp/gantry-test/git", cfg.Merger.GitDir)
	assert.Equal(t, "/tmp/gantry-test/history.db", cfg.State.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: chatty\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadRejectsBadWrapper(t *testing.T) {
	path := writeConfig(t, "executor:\n  execution_wrapper: chroot\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_wrapper")
}

func TestLoadRequiresConnectionHostname(t *testing.T) {
	path := writeConfig(t, `
merger:
  connections:
    gerrit:
      base_url: https://git.example.com
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname is required")
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("GANTRY_TEST_HOST", "git.internal")
	path := writeConfig(t, `
merger:
  connections:
    gerrit:
      hostname: ${GANTRY_TEST_HOST}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "git.internal", cfg.Merger.Connections["gerrit"].Hostname)
}

func TestUnresolvedEnvVarInBaseURLFails(t *testing.T) {
	path := writeConfig(t, `
merger:
  connections:
    gerrit:
      hostname: git.example.com
      base_url: https://${GANTRY_UNSET_VAR_12345}/
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GANTRY_UNSET_VAR_12345")
}

func TestFingerprintIsStable(t *testing.T) {
	path := writeConfig(t, "service:\n  name: gantry\n")

	first, err := Fingerprint(path)
	require.NoError(t, err)
	second, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: other\n"), 0o644))
	changed, err := Fingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
