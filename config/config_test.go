package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CacheConfig)
		ok     bool
	}{
		{"default", func(*CacheConfig) {}, true},
		{"zeroFastTier", func(c *CacheConfig) { c.FastTierSize = 0 }, false},
		{"zeroSlowTier", func(c *CacheConfig) { c.SlowTierSize = 0 }, false},
		{"zeroTTL", func(c *CacheConfig) { c.FastTierTTL = 0 }, false},
		{"zeroSweep", func(c *CacheConfig) { c.SweepInterval = 0 }, false},
		{"badBloomRate", func(c *CacheConfig) { c.BloomFalsePositiveRate = 1.5 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultCacheConfig()
			tc.mutate(cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestDestinationConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DestinationConfig)
		ok     bool
	}{
		{"default", func(*DestinationConfig) {}, true},
		{"zeroRetries", func(c *DestinationConfig) { c.Retries = 0 }, true},
		{"missingURL", func(c *DestinationConfig) { c.BaseURL = "" }, false},
		{"zeroConcurrent", func(c *DestinationConfig) { c.MaxConcurrent = 0 }, false},
		{"negativeRetries", func(c *DestinationConfig) { c.Retries = -1 }, false},
		{"negativeDelay", func(c *DestinationConfig) { c.RetryDelay = -time.Second }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultDestinationConfig("http://localhost:8080")
			tc.mutate(&cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestStateConfigValidation(t *testing.T) {
	cfg := DefaultStateConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.EnableDiffing)

	cfg.MaxSnapshots = 0
	assert.Error(t, cfg.Validate())
}

func TestDestinationBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultDestinationConfig("http://svc")
	assert.Equal(t, "http://svc", cfg.Breaker.Name)
	assert.NotNil(t, cfg.Breaker.ReadyToTrip)
}
