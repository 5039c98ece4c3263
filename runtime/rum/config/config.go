// Package config loads the settings of the RUM scope tree from YAML files
// and environment variables.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"goa.design/rum/runtime/rum/event"
	"goa.design/rum/runtime/rum/scope"
)

type (
	// Config holds the RUM settings.
	Config struct {
		// ApplicationID identifies the RUM application. Required.
		ApplicationID string `yaml:"application_id"`
		// Service is the name of the instrumented service.
		Service string `yaml:"service"`
		// Env is the deployment environment.
		Env string `yaml:"env"`
		// Version is the application version.
		Version string `yaml:"version"`
		// SessionSampleRate is the percentage of sessions kept, in [0,100].
		SessionSampleRate float64 `yaml:"session_sample_rate"`
		// BackgroundEventsTracking enables the background view.
		BackgroundEventsTracking bool `yaml:"background_events_tracking"`
		// SessionTimeout is the inactivity timeout of a session.
		SessionTimeout time.Duration `yaml:"session_timeout"`
		// SessionMaxDuration is the maximum lifetime of a session.
		SessionMaxDuration time.Duration `yaml:"session_max_duration"`
		// EventBufferSize is the capacity of the buffered event writer.
		EventBufferSize int `yaml:"event_buffer_size"`
	}
)

// Environment variables overriding file settings.
const (
	EnvApplicationID      = "RUM_APPLICATION_ID"
	EnvService            = "RUM_SERVICE"
	EnvEnv                = "RUM_ENV"
	EnvVersion            = "RUM_VERSION"
	EnvSessionSampleRate  = "RUM_SESSION_SAMPLE_RATE"
	EnvBackgroundEvents   = "RUM_BACKGROUND_EVENTS"
	EnvSessionTimeout     = "RUM_SESSION_TIMEOUT"
	EnvSessionMaxDuration = "RUM_SESSION_MAX_DURATION"
	EnvEventBufferSize    = "RUM_EVENT_BUFFER_SIZE"
)

//go:embed schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
})

// Default returns the default configuration. ApplicationID is left empty.
func Default() *Config {
	return &Config{
		SessionSampleRate:  100,
		SessionTimeout:     scope.DefaultSessionTimeout,
		SessionMaxDuration: scope.DefaultSessionMaxDuration,
		EventBufferSize:    event.DefaultBufferSize,
	}
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment overrides and validates the result. An empty path loads the
// defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data on top of the defaults. Unknown keys are
// rejected. Parse does not validate the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides the settings with the environment variables that are
// set. Values that fail to parse are ignored.
func (c *Config) ApplyEnv() {
	c.ApplicationID = envOr(EnvApplicationID, c.ApplicationID)
	c.Service = envOr(EnvService, c.Service)
	c.Env = envOr(EnvEnv, c.Env)
	c.Version = envOr(EnvVersion, c.Version)
	c.SessionSampleRate = envFloatOr(EnvSessionSampleRate, c.SessionSampleRate)
	c.BackgroundEventsTracking = envBoolOr(EnvBackgroundEvents, c.BackgroundEventsTracking)
	c.SessionTimeout = envDurationOr(EnvSessionTimeout, c.SessionTimeout)
	c.SessionMaxDuration = envDurationOr(EnvSessionMaxDuration, c.SessionMaxDuration)
	c.EventBufferSize = envIntOr(EnvEventBufferSize, c.EventBufferSize)
}

// Validate checks the configuration against the embedded JSON schema.
// Durations are validated as seconds.
func (c *Config) Validate() error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	raw, err := json.Marshal(map[string]any{
		"application_id":             c.ApplicationID,
		"service":                    c.Service,
		"env":                        c.Env,
		"version":                    c.Version,
		"session_sample_rate":        c.SessionSampleRate,
		"background_events_tracking": c.BackgroundEventsTracking,
		"session_timeout":            c.SessionTimeout.Seconds(),
		"session_max_duration":       c.SessionMaxDuration.Seconds(),
		"event_buffer_size":          c.EventBufferSize,
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Dependencies returns scope dependencies carrying the settings. Callers
// set the collaborators (provider, writer, crash context, telemetry).
func (c *Config) Dependencies() scope.Dependencies {
	return scope.Dependencies{
		ApplicationID:           c.ApplicationID,
		SessionSampleRate:       c.SessionSampleRate,
		BackgroundEventTracking: c.BackgroundEventsTracking,
		SessionTimeout:          c.SessionTimeout,
		SessionMaxDuration:      c.SessionMaxDuration,
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
