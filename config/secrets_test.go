package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager_GetSecret(t *testing.T) {
	manager := EnvSecretManager{}

	t.Setenv("ARGUS_TEST_TOKEN", "s3cr3t")
	value, err := manager.GetSecret("env:ARGUS_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	value, err = manager.GetSecret("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value, "trailing newline is trimmed")

	value, err = manager.GetSecret("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", value)

	_, err = manager.GetSecret("env:ARGUS_TEST_UNSET_TOKEN")
	assert.Error(t, err)
	_, err = manager.GetSecret("file:" + filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

type failingManager struct{}

func (failingManager) GetSecret(string) (string, error) {
	return "", errors.New("vault sealed")
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("ARGUS_TEST_REDIS_PASSWORD", "hunter2")
	cfg := newTestConfig()
	cfg.Correlation.Redis.Password = "env:ARGUS_TEST_REDIS_PASSWORD"
	cfg.Datasets.Sources[0].Headers = map[string]string{"X-API-Key": "literal"}

	require.NoError(t, resolveSecrets(&cfg))
	assert.Equal(t, "hunter2", cfg.Correlation.Redis.Password)
	assert.Equal(t, "literal", cfg.Datasets.Sources[0].Headers["X-API-Key"])

	err := resolveSecretsWith(&cfg, failingManager{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation.redis.password")
}

func TestConfig_Masked(t *testing.T) {
	cfg := newTestConfig()
	cfg.Correlation.Redis.Password = "hunter2"
	cfg.Datasets.Sources[0].Headers = map[string]string{"Authorization": "Bearer abc"}

	masked := cfg.Masked()
	assert.Equal(t, mask, masked.Correlation.Redis.Password)
	assert.Equal(t, mask, masked.Datasets.Sources[0].Headers["Authorization"])

	assert.Equal(t, "hunter2", cfg.Correlation.Redis.Password, "original is untouched")
	assert.Equal(t, "Bearer abc", cfg.Datasets.Sources[0].Headers["Authorization"])
}
