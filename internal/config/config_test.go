package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
feed:
  host: feed.local
  username: trader
  password: secret
database:
  market_data:
    driver: sqlite3
    dsn: ":memory:"
distribution:
  jwt_secret: 0123456789abcdef0123
`

const productionConfigWithoutSecret = `
env: production
feed:
  host: feed.local
  username: trader
  password: secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	t.Cleanup(func() { Env = nil })

	require.NoError(t, LoadConfig(writeConfig(t, minimalConfig)))
	require.NotNil(t, Env)

	assert.Equal(t, "feed.local", Env.Feed.Host)
	assert.Equal(t, 81, Env.Feed.Port)
	assert.Equal(t, 30*time.Second, Env.Feed.Timeout)
	assert.Equal(t, 5, Env.Feed.MaxReconnectAttempts)
	assert.Equal(t, 100, Env.Pipeline.BatchSize)
	assert.Equal(t, 5*time.Second, Env.Pipeline.BatchInterval)
	assert.Equal(t, 100*time.Millisecond, Env.Distribution.ThrottleInterval)
	assert.Equal(t, "/ws", Env.Distribution.Path)
	assert.False(t, Env.DevMode)
	assert.Equal(t, "sqlite3", Env.Database["market_data"].Driver)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Cleanup(func() { Env = nil })
	t.Setenv("FEED_PASSWORD", "from-env")

	require.NoError(t, LoadConfig(writeConfig(t, minimalConfig)))
	assert.Equal(t, "from-env", Env.Feed.Password)
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	t.Cleanup(func() { Env = nil })

	err := LoadConfig(writeConfig(t, productionConfigWithoutSecret))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")
	assert.Nil(t, Env)
}

func TestLoadConfig_JWTSecretFromEnvironment(t *testing.T) {
	t.Cleanup(func() { Env = nil })
	t.Setenv("DISTRIBUTION_JWT_SECRET", "secret-from-environment")

	require.NoError(t, LoadConfig(writeConfig(t, productionConfigWithoutSecret)))
	assert.Equal(t, "secret-from-environment", Env.Distribution.JWTSecret)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *EnvConfig {
		return &EnvConfig{
			Feed:         FeedConfig{Host: "feed.local", Port: 81, Username: "u", Password: "p"},
			Distribution: DistributionConfig{JWTSecret: "0123456789abcdef"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *EnvConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*EnvConfig) {}},
		{name: "missing host", mutate: func(cfg *EnvConfig) { cfg.Feed.Host = "" }, wantErr: true},
		{name: "missing password", mutate: func(cfg *EnvConfig) { cfg.Feed.Password = "" }, wantErr: true},
		{name: "port out of range", mutate: func(cfg *EnvConfig) { cfg.Feed.Port = 70000 }, wantErr: true},
		{name: "unknown driver", mutate: func(cfg *EnvConfig) {
			cfg.Database = map[string]DatabaseConfig{"market_data": {Driver: "mysql"}}
		}, wantErr: true},
		{name: "api key without key", mutate: func(cfg *EnvConfig) {
			cfg.APIKeys = []APIKeyConfig{{Name: "ops", Active: true}}
		}, wantErr: true},
		{name: "missing jwt secret", mutate: func(cfg *EnvConfig) { cfg.Distribution.JWTSecret = "" }, wantErr: true},
		{name: "short jwt secret", mutate: func(cfg *EnvConfig) { cfg.Distribution.JWTSecret = "change-me" }, wantErr: true},
		{name: "negative batch", mutate: func(cfg *EnvConfig) { cfg.Pipeline.BatchSize = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
