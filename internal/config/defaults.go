package config

import "time"

const (
	defaultWindowSize      = 100
	defaultMaxMsgSize      = 65536
	defaultBackoffInitial  = 500 * time.Millisecond
	defaultBackoffMaximum  = 30 * time.Second
	defaultBackoffMult     = 2.0
	defaultFailureThresh   = 5
	defaultSuccessThresh   = 2
	defaultBreakerTimeout  = 30 * time.Second
	defaultHalfOpenCalls   = 1
	defaultResetTimeout    = 60 * time.Second
	defaultQueueCapacity   = 10000
	defaultPersistPath     = "/var/lib/logcored/state.db"
	defaultMetricsListen   = ":9112"
	defaultDNSCapacity     = 10000
	defaultDNSPositiveTTL  = time.Hour
	defaultDNSNegativeTTL  = time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

// applyDefaults fills every zero-valued field a YAML document is allowed
// to omit. It runs after Unmarshal and before environment overrides, so
// an env var always wins over both the file and the built-in default.
func applyDefaults(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.WindowSize == 0 {
			s.WindowSize = defaultWindowSize
		}
		if s.MaxMsgSize == 0 {
			s.MaxMsgSize = defaultMaxMsgSize
		}
	}

	for i := range cfg.Destinations {
		d := &cfg.Destinations[i]
		if d.Backoff.Initial == 0 {
			d.Backoff.Initial = defaultBackoffInitial
		}
		if d.Backoff.Maximum == 0 {
			d.Backoff.Maximum = defaultBackoffMaximum
		}
		if d.Backoff.Multiplier == 0 {
			d.Backoff.Multiplier = defaultBackoffMult
		}
		if d.Breaker.FailureThreshold == 0 {
			d.Breaker.FailureThreshold = defaultFailureThresh
		}
		if d.Breaker.SuccessThreshold == 0 {
			d.Breaker.SuccessThreshold = defaultSuccessThresh
		}
		if d.Breaker.Timeout == 0 {
			d.Breaker.Timeout = defaultBreakerTimeout
		}
		if d.Breaker.HalfOpenMaxCalls == 0 {
			d.Breaker.HalfOpenMaxCalls = defaultHalfOpenCalls
		}
		if d.Breaker.ResetTimeout == 0 {
			d.Breaker.ResetTimeout = defaultResetTimeout
		}
		if d.Breaker.Name == "" {
			d.Breaker.Name = d.Name
		}
		if d.QueueCapacity == 0 {
			d.QueueCapacity = defaultQueueCapacity
		}
	}

	if cfg.Persist.Path == "" {
		cfg.Persist.Path = defaultPersistPath
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = defaultMetricsListen
	}
	if cfg.DNSCache.Capacity == 0 {
		cfg.DNSCache.Capacity = defaultDNSCapacity
	}
	if cfg.DNSCache.PositiveTTL == 0 {
		cfg.DNSCache.PositiveTTL = defaultDNSPositiveTTL
	}
	if cfg.DNSCache.NegativeTTL == 0 {
		cfg.DNSCache.NegativeTTL = defaultDNSNegativeTTL
	}
	if cfg.Shutdown.Timeout == 0 {
		cfg.Shutdown.Timeout = defaultShutdownTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
