package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMode, cfg.Mode)
	assert.Equal(t, DefaultSudo, cfg.Sudo)
	assert.Equal(t, DefaultFio, cfg.Tools.Fio)
	assert.Equal(t, DefaultNVMe, cfg.Tools.NVMe)
	assert.Equal(t, DefaultLshw, cfg.Tools.Lshw)
	assert.Equal(t, DefaultLspci, cfg.Tools.Lspci)
	assert.Equal(t, time.Minute, cfg.Test.Runtime)
	assert.Equal(t, 10*time.Second, cfg.Test.DevRuntime)
	assert.Equal(t, 25, cfg.Test.MaxRounds)
	assert.Equal(t, 5, cfg.Test.Window)
	assert.Equal(t, uint64(0xDEADBEEF), cfg.Test.Seed)
	assert.Equal(t, DefaultDBPath(), cfg.Store.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "info", cfg.Logging.Components["iops"])
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	content := `
mode: PTS-E
sudo: ""
tools:
  fio: /opt/fio/bin/fio
test:
  runtime: 30s
  max_rounds: 10
  window: 4
store:
  path: /var/lib/nvmepts/results.db
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nvmepts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nvmepts", "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "PTS-E", cfg.Mode)
	assert.Equal(t, "", cfg.Sudo)
	assert.Equal(t, "/opt/fio/bin/fio", cfg.Tools.Fio)
	assert.Equal(t, DefaultNVMe, cfg.Tools.NVMe, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Test.Runtime)
	assert.Equal(t, 10, cfg.Test.MaxRounds)
	assert.Equal(t, 4, cfg.Test.Window)
	assert.Equal(t, "/var/lib/nvmepts/results.db", cfg.Store.Path)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NVMEPTS_MODE", "PTS-E")
	t.Setenv("NVMEPTS_TEST_MAX_ROUNDS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "PTS-E", cfg.Mode)
	assert.Equal(t, 7, cfg.Test.MaxRounds)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"zero rounds", "NVMEPTS_TEST_MAX_ROUNDS", "0"},
		{"window too small", "NVMEPTS_TEST_WINDOW", "1"},
		{"zero runtime", "NVMEPTS_TEST_RUNTIME", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())
			t.Setenv(tt.env, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nvmepts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nvmepts", "config.yaml"), []byte("mode: [unterminated"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nvmepts", "config.yaml"), path)

	// The written file must load back to the defaults.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMode, cfg.Mode)
	assert.Equal(t, DefaultRuntime, cfg.Test.Runtime)
	assert.Equal(t, DefaultSeed, cfg.Test.Seed)

	// A second call leaves user edits alone.
	require.NoError(t, os.WriteFile(path, []byte("mode: PTS-E\n"), 0o644))
	_, err = WriteDefault()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mode: PTS-E\n", string(data))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/runs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "runs"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "results.db", filepath.Base(DefaultDBPath()))
	assert.Equal(t, "nvmepts.log", filepath.Base(DefaultLogPath()))
	assert.Equal(t, "nvmepts", filepath.Base(DataDir()))
	assert.Equal(t, "nvmepts", filepath.Base(StateDir()))
}
