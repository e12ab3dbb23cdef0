package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings configures a breaker. Zero fields fall back to DefaultSettings.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// DefaultSettings mirrors the HTTP dependency profile.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxRequests == 0 {
		s.MaxRequests = d.MaxRequests
	}
	if s.Timeout == 0 {
		s.Timeout = d.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	return s
}

// FromEnv overrides s with CB_<DEP>_* variables, e.g. CB_ORACLE_FAILURE_THRESHOLD.
func (s Settings) FromEnv(dep string) Settings {
	prefix := "CB_" + strings.ToUpper(dep) + "_"
	s.MaxRequests = envUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = envDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = envDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = envUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = envUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

func envUint32(key string, fallback uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
