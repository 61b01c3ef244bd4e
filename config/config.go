package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opsplane/opsplane/errors"
)

// NATSConfig holds broker connection settings.
type NATSConfig struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	ClientName string `json:"clientName,omitempty"`
}

// StreamsConfig names the JetStream streams and KV buckets the engine uses.
type StreamsConfig struct {
	StatusStream        string `json:"statusStream"`        // status updates from workers
	StatusSubjectPrefix string `json:"statusSubjectPrefix"` // one subject token per session id
	DeployStream        string `json:"deployStream"`        // resource requests to workers
	DeploySubjectPrefix string `json:"deploySubjectPrefix"`
	OperationsBucket    string `json:"operationsBucket"`
	ResourcesBucket     string `json:"resourcesBucket"`
	TemplatesBucket     string `json:"templatesBucket"`
	SessionsBucket      string `json:"sessionsBucket"` // session leases
}

// ConsumerConfig tunes the consumer pool and session handling.
type ConsumerConfig struct {
	Count            int      `json:"count"`            // number of consumer loops
	MaxLockDuration  Duration `json:"maxLockDuration"`  // max session lease renewal window
	RenewInterval    Duration `json:"renewInterval"`    // lease renewal period
	AcquireWait      Duration `json:"acquireWait"`      // pause between empty session polls
	TemplateCacheTTL Duration `json:"templateCacheTTL"` // template lookup cache TTL
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// MetricsConfig configures the metrics/health HTTP listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config is the complete application configuration.
type Config struct {
	NATS     NATSConfig     `json:"nats"`
	Streams  StreamsConfig  `json:"streams"`
	Consumer ConsumerConfig `json:"consumer"`
	Log      LogConfig      `json:"log"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("90s") or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration defaults for a local deployment.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			ClientName: "opsplane",
		},
		Streams: StreamsConfig{
			StatusStream:        "OPS_STATUS",
			StatusSubjectPrefix: "ops.status",
			DeployStream:        "OPS_DEPLOY",
			DeploySubjectPrefix: "ops.deploy",
			OperationsBucket:    "ops_operations",
			ResourcesBucket:     "ops_resources",
			TemplatesBucket:     "ops_templates",
			SessionsBucket:      "ops_sessions",
		},
		Consumer: ConsumerConfig{
			Count:            2,
			MaxLockDuration:  Duration(time.Hour),
			RenewInterval:    Duration(15 * time.Second),
			AcquireWait:      Duration(time.Second),
			TemplateCacheTTL: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load builds the configuration from defaults, an optional JSON file and
// OPSPLANE_* environment overrides, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "read config file "+path)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "parse config file "+path)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays OPSPLANE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPSPLANE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("OPSPLANE_NATS_USERNAME"); v != "" {
		cfg.NATS.Username = v
	}
	if v := os.Getenv("OPSPLANE_NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := os.Getenv("OPSPLANE_CONSUMER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consumer.Count = n
		}
	}
	if v := os.Getenv("OPSPLANE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPSPLANE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OPSPLANE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url is empty")
	}
	if c.Consumer.Count <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("consumer.count must be positive, got %d", c.Consumer.Count))
	}
	if c.Consumer.RenewInterval.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "consumer.renewInterval must be positive")
	}
	if c.Consumer.MaxLockDuration.Std() < c.Consumer.RenewInterval.Std() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"consumer.maxLockDuration must be >= consumer.renewInterval")
	}
	for name, v := range map[string]string{
		"streams.statusStream":        c.Streams.StatusStream,
		"streams.statusSubjectPrefix": c.Streams.StatusSubjectPrefix,
		"streams.deployStream":        c.Streams.DeployStream,
		"streams.deploySubjectPrefix": c.Streams.DeploySubjectPrefix,
		"streams.operationsBucket":    c.Streams.OperationsBucket,
		"streams.resourcesBucket":     c.Streams.ResourcesBucket,
		"streams.templatesBucket":     c.Streams.TemplatesBucket,
		"streams.sessionsBucket":      c.Streams.SessionsBucket,
	} {
		if v == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", name+" is empty")
		}
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	return nil
}
