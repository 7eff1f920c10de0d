package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAdminSettingsAreValid(t *testing.T) {
	s := DefaultAdminSettings()
	require.NoError(t, ValidateAdminSettings(s))
	assert.Equal(t, 15*time.Minute, s.HoldPeriod)
	assert.Equal(t, 3, s.MaxPayoutRetries)
	assert.Equal(t, "15", s.PlatformFeeRate().String())
}

func TestValidateAdminSettingsRejectsBadValues(t *testing.T) {
	cases := map[string]func(*AdminSettings){
		"currency":    func(s *AdminSettings) { s.CurrencyCode = "US" },
		"fee":         func(s *AdminSettings) { s.DefaultPlatformFeeRate = 120 },
		"worker fee":  func(s *AdminSettings) { s.DefaultWorkerFeeRate = -1 },
		"hold":        func(s *AdminSettings) { s.HoldPeriod = 0 },
		"retries":     func(s *AdminSettings) { s.MaxPayoutRetries = 0 },
		"attempts":    func(s *AdminSettings) { s.ProcessorAttempts = 0 },
		"backoff max": func(s *AdminSettings) { s.ProcessorBackoffMax = time.Millisecond },
	}
	for name, mutate := range cases {
		s := DefaultAdminSettings()
		mutate(&s)
		assert.Error(t, ValidateAdminSettings(s), name)
	}
}

func TestStaticSettingsHolder(t *testing.T) {
	s := DefaultAdminSettings()
	s.HoldPeriod = time.Hour
	h := NewStaticSettingsHolder(s)
	assert.Equal(t, time.Hour, h.Get().HoldPeriod)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("SCHEDULER_BATCH_SIZE", "nope")
	t.Setenv("SCHEDULER_JOBS", "auto_release, ,payout_retry")

	cfg := Load()
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 100, cfg.SchedulerBatchSize)
	assert.Equal(t, []string{"auto_release", "payout_retry"}, cfg.SchedulerJobs)
}
