package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret references let credentials stay out of the config file:
//
//	headers:
//	  Authorization: "env:FEED_TOKEN"
//	password: "file:/run/secrets/redis"
const (
	envRef  = "env:"
	fileRef = "file:"
)

// SecretManager resolves secret references
type SecretManager interface {
	GetSecret(ref string) (string, error)
}

// EnvSecretManager resolves env: and file: references; any other value is
// returned unchanged
type EnvSecretManager struct{}

// GetSecret implements SecretManager
func (EnvSecretManager) GetSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envRef):
		name := strings.TrimPrefix(ref, envRef)
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return "", fmt.Errorf("environment variable %s not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, fileRef):
		data, err := os.ReadFile(strings.TrimPrefix(ref, fileRef))
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return ref, nil
}

func resolveSecrets(cfg *Config) error {
	return resolveSecretsWith(cfg, EnvSecretManager{})
}

func resolveSecretsWith(cfg *Config, manager SecretManager) error {
	password, err := manager.GetSecret(cfg.Correlation.Redis.Password)
	if err != nil {
		return fmt.Errorf("correlation.redis.password: %w", err)
	}
	cfg.Correlation.Redis.Password = password

	for i := range cfg.Datasets.Sources {
		src := &cfg.Datasets.Sources[i]
		if len(src.Headers) == 0 {
			continue
		}
		resolved := make(map[string]string, len(src.Headers))
		for k, v := range src.Headers {
			value, err := manager.GetSecret(v)
			if err != nil {
				return fmt.Errorf("datasets.sources[%d].headers.%s: %w", i, k, err)
			}
			resolved[k] = value
		}
		src.Headers = resolved
	}
	return nil
}

const mask = "********"

// Masked returns a copy of cfg safe to print: the Redis password and every
// source header value are replaced
func (c *Config) Masked() *Config {
	masked := *c
	if masked.Correlation.Redis.Password != "" {
		masked.Correlation.Redis.Password = mask
	}
	masked.Datasets.Sources = make([]SourceConfig, len(c.Datasets.Sources))
	for i, src := range c.Datasets.Sources {
		if len(src.Headers) > 0 {
			headers := make(map[string]string, len(src.Headers))
			for k := range src.Headers {
				headers[k] = mask
			}
			src.Headers = headers
		}
		masked.Datasets.Sources[i] = src
	}
	return &masked
}
