package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "FUZZY_CUTOFF", "0.8")
	setEnv(t, "SESSION_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.8, cfg.FuzzyCutoff)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, DefaultUrbanThreshold, cfg.UrbanTPRThreshold)
	assert.Equal(t, DefaultRuralThreshold, cfg.RuralTPRThreshold)
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "FUZZY_CUTOFF", "URBAN_TPR_THRESHOLD",
		"RURAL_TPR_THRESHOLD", "CLASSIFIER_MIN_CONFIDENCE", "SESSION_TTL"} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultFuzzyCutoff, cfg.FuzzyCutoff)
	assert.Equal(t, DefaultClassifierMinConf, cfg.ClassifierMinConf)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		FuzzyCutoff:       0.75,
		UrbanTPRThreshold: 50,
		RuralTPRThreshold: 70,
		ClassifierMinConf: 0.4,
		SessionTTL:        time.Hour,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: ""},
		{name: "cutoff too high", mutate: func(c *Config) { c.FuzzyCutoff = 1.5 }, wantErr: "FUZZY_CUTOFF"},
		{name: "cutoff zero", mutate: func(c *Config) { c.FuzzyCutoff = 0 }, wantErr: "FUZZY_CUTOFF"},
		{name: "urban threshold over 100", mutate: func(c *Config) { c.UrbanTPRThreshold = 150 }, wantErr: "URBAN_TPR_THRESHOLD"},
		{name: "rural threshold negative", mutate: func(c *Config) { c.RuralTPRThreshold = -1 }, wantErr: "RURAL_TPR_THRESHOLD"},
		{name: "confidence over 1", mutate: func(c *Config) { c.ClassifierMinConf = 1.1 }, wantErr: "CLASSIFIER_MIN_CONFIDENCE"},
		{name: "zero ttl", mutate: func(c *Config) { c.SessionTTL = 0 }, wantErr: "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.9")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, 0.9, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 0.5, getEnvFloat("NONEXISTENT_VAR", 0.5))
	assert.Equal(t, 0.5, getEnvFloat("TEST_INVALID", 0.5)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_INVALID", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_INVALID", time.Minute))
}
