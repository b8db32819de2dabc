package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables that override the configuration file.
const (
	EnvLogLevel          = "SIGRT_LOG_LEVEL"
	EnvLogFormat         = "SIGRT_LOG_FORMAT"
	EnvRendezvous        = "SIGRT_RENDEZVOUS"
	EnvRendezvousDir     = "SIGRT_RENDEZVOUS_DIR"
	EnvDirectory         = "SIGRT_DIRECTORY"
	EnvDirectoryDir      = "SIGRT_DIRECTORY_DIR"
	EnvCompletionTimeout = "SIGRT_COMPLETION_TIMEOUT"
	EnvEnableAPI         = "SIGRT_ENABLE_API"
	EnvAPIAddr           = "SIGRT_API_ADDR"
)

// ApplyEnv overrides fields from SIGRT_* variables resolved through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvLogLevel, &c.Logging.Level)
	str(EnvLogFormat, &c.Logging.Format)
	str(EnvRendezvous, &c.Rendezvous.Kind)
	str(EnvRendezvousDir, &c.Rendezvous.Dir)
	str(EnvDirectory, &c.Directory.Kind)
	str(EnvDirectoryDir, &c.Directory.Dir)
	str(EnvAPIAddr, &c.API.Addr)

	if v, ok := lookup(EnvCompletionTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", EnvCompletionTimeout, v, err)
		}
		c.Runtime.CompletionTimeout = Duration{Duration: d, explicit: true}
	}
	if v, ok := lookup(EnvEnableAPI); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvEnableAPI, v)
		}
		c.API.Enabled = enabled
	}
	return nil
}
