package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvironmentOverrides layers LOGCORED_* environment variables over
// whatever the YAML file and defaults produced, matching the teacher's
// env-override pass in internal/config.applyEnvironmentOverrides — but
// scoped to the handful of settings an operator actually needs to flip
// without editing the file (persist location, metrics listener and
// enable switch, shutdown grace period, DNS hosts file, log level and
// format), rather than every leaf field.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("LOGCORED_PERSIST_PATH"); v != "" {
		cfg.Persist.Path = v
	}
	if v := os.Getenv("LOGCORED_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("LOGCORED_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("LOGCORED_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shutdown.Timeout = d
		}
	}
	if v := os.Getenv("LOGCORED_DNS_HOSTS_FILE"); v != "" {
		cfg.DNSCache.HostsFile = v
	}
	if v := os.Getenv("LOGCORED_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGCORED_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// ConfigFileFromEnv resolves the config file path the same way the
// teacher's cmd/main.go does: a -config flag value if set, else
// LOGCORED_CONFIG_FILE, else fallback.
func ConfigFileFromEnv(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("LOGCORED_CONFIG_FILE"); v != "" {
		return v
	}
	return fallback
}
