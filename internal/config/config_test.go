package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Bind)
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "general", cfg.FallbackChannel)
	assert.Equal(t, int64(64000), cfg.MaxFrameBytes)
	assert.Equal(t, rate.Limit(20), cfg.ActionRate)
	assert.Equal(t, "@every 30m", cfg.MaintenanceSchedule)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MURMUR_DB_BACKEND", "pebble")
	t.Setenv("MURMUR_WS_MAX_FRAME_SIZE", "1MiB")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(replacer())
	v.AutomaticEnv()

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Backend)
	assert.Equal(t, int64(1<<20), cfg.MaxFrameBytes)
}

func TestRejectsBadValues(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ws.max_frame_size", "lots")
	_, err := FromViper(v)
	assert.Error(t, err)

	v = viper.New()
	setDefaults(v)
	v.Set("db.backend", "postgres")
	_, err = FromViper(v)
	assert.Error(t, err)
}
