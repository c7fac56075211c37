package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateQuery(&cfg.Query, result)
	validateMaster(&cfg.Master, result)
	validateTracker(&cfg.Tracker, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	return result
}

func validateQuery(q *QueryConfig, result *ValidationResult) {
	for i, addr := range q.Servers {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			result.AddError(fmt.Sprintf("query.servers[%d]", i),
				fmt.Sprintf("invalid address %q: expected host:port", addr))
		}
	}

	if q.TimeoutSec < 1 {
		result.AddError("query.timeout_sec", "timeout must be at least 1 second")
	}
	if q.TimeoutSec > 30 {
		result.AddWarning("query.timeout_sec",
			fmt.Sprintf("timeout of %ds is unusually long for UDP queries", q.TimeoutSec))
	}

	if q.RetryCount < 0 {
		result.AddError("query.retry_count", "retry count cannot be negative")
	}
}

func validateMaster(m *MasterConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}

	if strings.TrimSpace(m.Address) == "" {
		result.AddError("master.address", "master server address is required when enabled")
	} else if _, _, err := net.SplitHostPort(m.Address); err != nil {
		result.AddError("master.address",
			fmt.Sprintf("invalid address %q: expected host:port", m.Address))
	}

	if m.PageLimit < 1 {
		result.AddError("master.page_limit", "page limit must be at least 1")
	}
	if m.PageLimit > 100 {
		result.AddWarning("master.page_limit",
			fmt.Sprintf("page limit of %d may take a long time to sweep", m.PageLimit))
	}
}

func validateTracker(t *TrackerConfig, result *ValidationResult) {
	if t.PollIntervalSec < 5 {
		result.AddWarning("tracker.poll_interval_sec",
			"poll interval less than 5s may flood servers with queries")
	}
	if t.OfflineThreshold < 1 {
		result.AddError("tracker.offline_threshold", "offline threshold must be at least 1")
	}
	if t.RetentionDays < 1 {
		result.AddError("tracker.retention_days", "retention days must be at least 1")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}

	validatePort(a.Port, "api.port", result)

	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}

	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS {
		if strings.TrimSpace(m.CertFile) == "" {
			result.AddError("mqtt.cert_file", "certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(m.KeyFile) == "" {
			result.AddError("mqtt.key_file", "key file is required when TLS is enabled")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
