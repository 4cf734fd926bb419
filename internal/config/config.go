// Package config provides configuration loading and validation for the remediation pipeline.
//
// Values come from built-in defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingQueueURL is the one startup misconfiguration every role treats as fatal.
var ErrMissingQueueURL = errors.New("SQS_QUEUE_URL environment variable not set")

// Config is the complete runtime configuration.
type Config struct {
	AWS              AWSConfig          `yaml:"aws"`
	Policy           PolicyConfig       `yaml:"policy"`
	Notifications    NotificationConfig `yaml:"notifications"`
	Metrics          MetricsConfig      `yaml:"metrics"`
	Worker           WorkerConfig       `yaml:"worker"`
	Queue            QueueConfig        `yaml:"queue"`
	Scaler           ScalerConfig       `yaml:"scaler"`
	LocalStoreDir    string             `yaml:"local_store_dir,omitempty"`
	EnableEnrichment bool               `yaml:"enable_enrichment"`
}

// AWSConfig selects credentials and endpoints.
type AWSConfig struct {
	Region      string `yaml:"region,omitempty"`
	Profile     string `yaml:"profile,omitempty"`
	EndpointURL string `yaml:"endpoint_url,omitempty"`
}

// QueueConfig describes the remediation queue and how it is polled.
type QueueConfig struct {
	URL               string `yaml:"url"`
	MaxMessages       int    `yaml:"max_messages"`
	WaitTimeSeconds   int    `yaml:"wait_time_seconds"`
	VisibilityTimeout int    `yaml:"visibility_timeout"`
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	OutputBucket            string `yaml:"output_bucket,omitempty"`
	EngineBinary            string `yaml:"engine_binary,omitempty"`
	WorkDir                 string `yaml:"work_dir,omitempty"`
	MaxEmptyReceives        int    `yaml:"max_empty_receives"`
	EngineTimeoutSeconds    int    `yaml:"engine_timeout_seconds"`
	PollErrorBackoffSeconds int    `yaml:"poll_error_backoff_seconds"`
}

// PolicyConfig locates the rule table and policy documents.
type PolicyConfig struct {
	Bucket     string `yaml:"bucket"`
	MappingKey string `yaml:"mapping_key"`
	DefaultKey string `yaml:"default_key"`
	// FallbackKey is used by workers when a message carries no policy reference.
	FallbackKey string `yaml:"fallback_key"`
}

// ScalerConfig bounds the worker service.
type ScalerConfig struct {
	Cluster         string `yaml:"cluster"`
	Service         string `yaml:"service"`
	MinTasks        int    `yaml:"min_tasks"`
	MaxTasks        int    `yaml:"max_tasks"`
	MessagesPerTask int    `yaml:"messages_per_task"`
}

// NotificationConfig lists notification sinks. Each is optional.
type NotificationConfig struct {
	QueueURL string   `yaml:"queue_url,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	Brokers  []string `yaml:"brokers,omitempty"`
}

// MetricsConfig controls CloudWatch publishing.
type MetricsConfig struct {
	NamespacePrefix string `yaml:"namespace_prefix"`
	Disabled        bool   `yaml:"disabled"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxMessages:       10,
			WaitTimeSeconds:   20,
			VisibilityTimeout: 3600,
		},
		Worker: WorkerConfig{
			EngineBinary:            "custodian",
			MaxEmptyReceives:        10,
			EngineTimeoutSeconds:    300,
			PollErrorBackoffSeconds: 5,
		},
		Policy: PolicyConfig{
			MappingKey:  "config/policy-mappings.json",
			DefaultKey:  "policies/s3-createbucket.yml",
			FallbackKey: "policies/unified-security-policy.yml",
		},
		Scaler: ScalerConfig{
			MinTasks:        0,
			MaxTasks:        10,
			MessagesPerTask: 5,
		},
		Metrics: MetricsConfig{
			NamespacePrefix: "CloudCustodian",
		},
		EnableEnrichment: true,
	}
}

// Load builds the configuration. path may be empty; getenv is usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML file over the defaults without consulting the environment.
func LoadConfig(path string) (*Config, error) {
	return Load(path, func(string) string { return "" })
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from trusted source (config file)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	return nil
}

// applyEnv overrides fields from the process environment.
func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"SQS_QUEUE_URL":            &c.Queue.URL,
		"OUTPUT_BUCKET":            &c.Worker.OutputBucket,
		"ENGINE_BINARY":            &c.Worker.EngineBinary,
		"ENGINE_WORK_DIR":          &c.Worker.WorkDir,
		"NOTIFICATION_QUEUE_URL":   &c.Notifications.QueueURL,
		"NOTIFICATION_TOPIC":       &c.Notifications.Topic,
		"ECS_CLUSTER_NAME":         &c.Scaler.Cluster,
		"ECS_SERVICE_NAME":         &c.Scaler.Service,
		"POLICY_BUCKET":            &c.Policy.Bucket,
		"POLICY_MAPPING_KEY":       &c.Policy.MappingKey,
		"DEFAULT_POLICY_KEY":       &c.Policy.DefaultKey,
		"POLICY_KEY":               &c.Policy.FallbackKey,
		"AWS_REGION":               &c.AWS.Region,
		"AWS_PROFILE":              &c.AWS.Profile,
		"AWS_ENDPOINT_URL":         &c.AWS.EndpointURL,
		"METRICS_NAMESPACE_PREFIX": &c.Metrics.NamespacePrefix,
		"LOCAL_STORE_DIR":          &c.LocalStoreDir,
	}
	for name, field := range strs {
		if v := getenv(name); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"MAX_MESSAGES":               &c.Queue.MaxMessages,
		"WAIT_TIME_SECONDS":          &c.Queue.WaitTimeSeconds,
		"VISIBILITY_TIMEOUT":         &c.Queue.VisibilityTimeout,
		"MAX_EMPTY_RECEIVES":         &c.Worker.MaxEmptyReceives,
		"ENGINE_TIMEOUT_SECONDS":     &c.Worker.EngineTimeoutSeconds,
		"POLL_ERROR_BACKOFF_SECONDS": &c.Worker.PollErrorBackoffSeconds,
		"MIN_TASKS":                  &c.Scaler.MinTasks,
		"MAX_TASKS":                  &c.Scaler.MaxTasks,
		"MESSAGES_PER_TASK":          &c.Scaler.MessagesPerTask,
	}
	for name, field := range ints {
		v := getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		*field = n
	}

	if v := getenv("NOTIFICATION_BROKERS"); v != "" {
		c.Notifications.Brokers = splitList(v)
	}
	if v := getenv("ENABLE_ENRICHMENT"); v != "" {
		c.EnableEnrichment = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v := getenv("METRICS_DISABLED"); v != "" {
		c.Metrics.Disabled = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that are wrong regardless of role.
func (c *Config) Validate() error {
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return fmt.Errorf("queue.max_messages must be between 1 and 10, got %d", c.Queue.MaxMessages)
	}
	if c.Queue.WaitTimeSeconds < 0 || c.Queue.WaitTimeSeconds > 20 {
		return fmt.Errorf("queue.wait_time_seconds must be between 0 and 20, got %d", c.Queue.WaitTimeSeconds)
	}
	if c.Queue.VisibilityTimeout < 0 || c.Queue.VisibilityTimeout > 43200 {
		return fmt.Errorf("queue.visibility_timeout must be between 0 and 43200, got %d", c.Queue.VisibilityTimeout)
	}
	if c.Worker.MaxEmptyReceives < 1 {
		return fmt.Errorf("worker.max_empty_receives must be positive")
	}
	if c.Worker.EngineTimeoutSeconds < 1 {
		return fmt.Errorf("worker.engine_timeout_seconds must be positive")
	}
	if c.Worker.PollErrorBackoffSeconds < 0 {
		return fmt.Errorf("worker.poll_error_backoff_seconds must not be negative")
	}
	if c.Scaler.MinTasks < 0 {
		return fmt.Errorf("scaler.min_tasks must not be negative")
	}
	if c.Scaler.MaxTasks < 1 {
		return fmt.Errorf("scaler.max_tasks must be at least 1")
	}
	if c.Scaler.MaxTasks < c.Scaler.MinTasks {
		return fmt.Errorf("scaler.max_tasks (%d) must be at least scaler.min_tasks (%d)", c.Scaler.MaxTasks, c.Scaler.MinTasks)
	}
	if c.Scaler.MessagesPerTask < 1 {
		return fmt.Errorf("scaler.messages_per_task must be positive")
	}
	if c.Notifications.Topic != "" && len(c.Notifications.Brokers) == 0 {
		return fmt.Errorf("notifications.topic requires notifications.brokers")
	}
	return nil
}

// ValidateWorker checks what the worker needs to start.
func (c *Config) ValidateWorker() error {
	if c.Queue.URL == "" {
		return ErrMissingQueueURL
	}
	return nil
}

// ValidateInvoker checks what ingestion needs to start.
func (c *Config) ValidateInvoker() error {
	if c.Queue.URL == "" {
		return ErrMissingQueueURL
	}
	if c.Policy.Bucket == "" {
		return fmt.Errorf("POLICY_BUCKET is required")
	}
	return nil
}

// ValidateScaler checks what the autoscaler needs to start.
func (c *Config) ValidateScaler() error {
	if c.Scaler.Cluster == "" || c.Scaler.Service == "" {
		return fmt.Errorf("ECS_CLUSTER_NAME and ECS_SERVICE_NAME are required")
	}
	return nil
}

// WaitTime returns the long-poll wait as a duration.
func (c *Config) WaitTime() time.Duration {
	return time.Duration(c.Queue.WaitTimeSeconds) * time.Second
}

// EngineTimeout returns the per-run engine deadline.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Worker.EngineTimeoutSeconds) * time.Second
}

// PollErrorBackoff returns the pause after a failed poll cycle.
func (c *Config) PollErrorBackoff() time.Duration {
	return time.Duration(c.Worker.PollErrorBackoffSeconds) * time.Second
}
