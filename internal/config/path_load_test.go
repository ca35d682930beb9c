package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "relay", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "relay", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	t.Setenv(EnvBusPassword, "")
	t.Setenv(EnvProviderAPIKey, "")
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.Len(t, loaded.Warnings, 2)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Contains(t, loaded.Warnings[1].Message, "provider.api_key")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	t.Setenv(EnvProviderAPIKey, "")
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "bus": {"addr": "10.0.0.5:6379"},
  "provider": {"api_key": "file-key"},
  "capture": {"batch_size": 3},
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "10.0.0.5:6379", loaded.Config.Bus.Addr)
	require.Equal(t, "file-key", loaded.Config.Provider.APIKey)
	require.Equal(t, 3, loaded.Config.Capture.BatchSize)
	require.Empty(t, loaded.Warnings)
}

func TestLoadEnvironmentOverridesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"bus":{"password":"file"},"provider":{"api_key":"file-key"}}`), 0o600))
	t.Setenv(EnvBusPassword, "env-secret")
	t.Setenv(EnvProviderAPIKey, " env-key ")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-secret", loaded.Config.Bus.Password)
	require.Equal(t, "env-key", loaded.Config.Provider.APIKey)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
