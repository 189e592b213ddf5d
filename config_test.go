package quotaguard_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qg "github.com/ineyio/quotaguard"
)

const sampleConfig = `
priority: [gemini-2.5-flash, gemini-2.5-flash-lite]
safety_buffer: 0.75
backends:
  - id: gemini-2.5-flash
    rpm: 10
    tpm: 250000
    rpd: 250
  - id: gemini-2.5-flash-lite
    rpm: 15
    tpm: 250000
    rpd: 1000
search:
  monthly_free_quota: 1500
store:
  driver: redis
  addr: ${QG_REDIS_ADDR}
`

func TestParseConfig(t *testing.T) {
	t.Setenv("QG_REDIS_ADDR", "cache:6379")

	cfg, err := qg.ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []qg.BackendID{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, cfg.Priority)
	assert.Equal(t, 0.75, cfg.SafetyBuffer)
	assert.Equal(t, qg.DefaultMaxMessageLength, cfg.MaxMessageLength)
	assert.Equal(t, int64(1500), cfg.Search.MonthlyFreeQuota)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.Addr)
	assert.Equal(t, qg.DefaultKeyPrefix, cfg.Store.KeyPrefix)

	limits, ok := cfg.Limits("gemini-2.5-flash-lite")
	require.True(t, ok)
	assert.Equal(t, qg.StaticLimits{RPM: 15, TPM: 250000, RPD: 1000}, limits)

	_, ok = cfg.Limits("missing")
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
priority: [a]
backends:
  - {id: a, rpm: 1, tpm: 1, rpd: 1}
`), 0o600))

	cfg, err := qg.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, qg.DefaultSafetyBuffer, cfg.SafetyBuffer)
	assert.Equal(t, "memory", cfg.Store.Driver)

	_, err = qg.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseConfig_Malformed(t *testing.T) {
	_, err := qg.ParseConfig([]byte("priority: [a\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, qg.ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*qg.Config)
	}{
		{"empty priority", func(c *qg.Config) { c.Priority = nil }},
		{"negative buffer", func(c *qg.Config) { c.SafetyBuffer = -0.1 }},
		{"buffer one", func(c *qg.Config) { c.SafetyBuffer = 1 }},
		{"negative message length", func(c *qg.Config) { c.MaxMessageLength = -1 }},
		{"negative search quota", func(c *qg.Config) { c.Search.MonthlyFreeQuota = -5 }},
		{"missing backend id", func(c *qg.Config) { c.Backends[1].ID = "" }},
		{"duplicate backend id", func(c *qg.Config) { c.Backends[1].ID = "primary" }},
		{"zero rpd", func(c *qg.Config) { c.Backends[0].Limits.RPD = 0 }},
		{"unknown priority entry", func(c *qg.Config) { c.Priority = append(c.Priority, "ghost") }},
		{"priority listed twice", func(c *qg.Config) { c.Priority = []qg.BackendID{"primary", "primary"} }},
		{"unknown driver", func(c *qg.Config) { c.Store.Driver = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			cfg.ApplyDefaults()
			assert.ErrorIs(t, cfg.Validate(), qg.ErrInvalidConfig)
		})
	}
}

func TestConfigValidate_OK(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
}
