package config

import "encoding/json"

// ConfigSanitizer redacts sensitive configuration fields before a Config
// is logged or exposed through a status endpoint.
type ConfigSanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer.
type DefaultConfigSanitizer struct {
	redactionValue string
}

// NewDefaultConfigSanitizer creates a sanitizer using "***REDACTED***".
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: "***REDACTED***"}
}

// NewConfigSanitizer creates a sanitizer with a custom redaction value.
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: redactionValue}
}

// Sanitize redacts the only secret this configuration carries: the
// optional L2 query-cache Redis password (§3 DOMAIN STACK).
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)
	if sanitized.EventCache.QueryCache.L2 != nil && sanitized.EventCache.QueryCache.L2.Password != "" {
		sanitized.EventCache.QueryCache.L2.Password = s.redactionValue
	}
	return sanitized
}

func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var cp Config
	if err := json.Unmarshal(data, &cp); err != nil {
		return cfg
	}
	return &cp
}
