package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, c.HTTPPort)
	assert.Equal(t, "labbook.db", c.DBPath)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, 10*time.Second, c.LockTTL)
	assert.Equal(t, time.Hour, c.SchedulerInterval)
	assert.True(t, c.SchedulerEnabled)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	assert.Empty(t, c.KafkaBrokers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LABBOOK_HTTP_PORT", "9090")
	t.Setenv("LABBOOK_DB_PATH", ":memory:")
	t.Setenv("LABBOOK_LOCATION", "Europe/Paris")
	t.Setenv("LABBOOK_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LABBOOK_SCHEDULER_INTERVAL", "15m")
	t.Setenv("LABBOOK_LOG_FORMAT", "text")

	c, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, c.HTTPPort)
	assert.Equal(t, ":memory:", c.DBPath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, c.SchedulerInterval)
	assert.Equal(t, "text", c.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad level", "LABBOOK_LOG_LEVEL", "verbose"},
		{"bad port", "LABBOOK_HTTP_PORT", "70000"},
		{"bad location", "LABBOOK_LOCATION", "Mars/Olympus"},
		{"interval too short", "LABBOOK_SCHEDULER_INTERVAL", "10ms"},
		{"not a number", "LABBOOK_HTTP_PORT", "eighty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
