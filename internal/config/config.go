// Package config defines the worker configuration and its loaders.
package config

import (
	"fmt"
	"time"
)

// CredentialMode selects how the database password is obtained.
type CredentialMode string

const (
	// CredentialModeStatic uses the password from the configuration file.
	CredentialModeStatic CredentialMode = "static"
	// CredentialModeManagedIdentity exchanges a cloud managed identity for a
	// short-lived database token on every connection.
	CredentialModeManagedIdentity CredentialMode = "managed_identity"
)

// FeedType selects the source of image references for a run.
type FeedType string

const (
	FeedTypeStatic FeedType = "static"
	FeedTypeKafka  FeedType = "kafka"
)

// Config is the top-level worker configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Detector DetectorConfig `yaml:"detector"`
	Feed     FeedConfig     `yaml:"feed"`
	Run      RunConfig      `yaml:"run"`
}

// DetectorConfig points at the inference service the worker calls per image.
type DetectorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// DatabaseConfig holds connection settings for the tracking database.
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
	User string `yaml:"user"`

	// Password is only consulted in static credential mode.
	Password string `yaml:"password,omitempty"`

	CredentialMode CredentialMode `yaml:"credential_mode"`

	// ManagedIdentityClientID selects a user-assigned identity; empty means
	// the system-assigned identity.
	ManagedIdentityClientID string `yaml:"managed_identity_client_id,omitempty"`

	SSLMode  string `yaml:"ssl_mode,omitempty"`
	MinConns int32  `yaml:"min_conns,omitempty"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
}

// ManifestEntry is one image reference in a static feed manifest.
type ManifestEntry struct {
	Customer   string `yaml:"customer"`
	UploadDate string `yaml:"upload_date"`
	Filename   string `yaml:"filename"`
}

// KafkaFeedConfig holds settings for the Kafka-backed manifest feed.
type KafkaFeedConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// FeedConfig selects and configures the image feed.
type FeedConfig struct {
	Type FeedType `yaml:"type"`

	// Images is the inline manifest for the static feed.
	Images []ManifestEntry `yaml:"images,omitempty"`

	Kafka KafkaFeedConfig `yaml:"kafka,omitempty"`
}

// RunConfig describes a single batch run.
type RunConfig struct {
	Customer string `yaml:"customer"`

	// RunID identifies the run in audit and detection rows. Empty means the
	// worker generates a fresh UUID at startup.
	RunID string `yaml:"run_id,omitempty"`

	Model string `yaml:"model"`

	// Resumable enables the image claim/complete state machine so a replayed
	// run skips already processed images.
	Resumable bool `yaml:"resumable"`

	// ReportingRequired makes a missing run repository a fatal configuration
	// error instead of a silently skipped audit write.
	ReportingRequired bool `yaml:"reporting_required"`

	// StrictClaims rejects claiming an image that is already in progress.
	StrictClaims bool `yaml:"strict_claims"`

	// DetectionRPS caps inference calls per second; zero disables the limit.
	DetectionRPS   float64 `yaml:"detection_rps,omitempty"`
	DetectionBurst int     `yaml:"detection_burst,omitempty"`

	// UnitOfWorkTimeout bounds each transactional scope; zero disables it.
	UnitOfWorkTimeout time.Duration `yaml:"unit_of_work_timeout,omitempty"`
}

// Validate checks the configuration for combinations the worker cannot
// run with.
func (c *Config) Validate() error {
	switch c.Database.CredentialMode {
	case CredentialModeStatic:
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in static credential mode")
		}
	case CredentialModeManagedIdentity:
		if c.Database.Password != "" {
			return fmt.Errorf("database.password must not be set in managed identity mode")
		}
	default:
		return fmt.Errorf("unknown credential mode: %q", c.Database.CredentialMode)
	}

	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		return fmt.Errorf("database host, name and user are required")
	}

	if c.Detector.Endpoint == "" {
		return fmt.Errorf("detector.endpoint is required")
	}

	switch c.Feed.Type {
	case FeedTypeStatic:
		if len(c.Feed.Images) == 0 {
			return fmt.Errorf("static feed requires at least one manifest entry")
		}
	case FeedTypeKafka:
		if len(c.Feed.Kafka.Brokers) == 0 || c.Feed.Kafka.Topic == "" {
			return fmt.Errorf("kafka feed requires brokers and a topic")
		}
	default:
		return fmt.Errorf("unknown feed type: %q", c.Feed.Type)
	}

	if c.Run.Customer == "" {
		return fmt.Errorf("run.customer is required")
	}
	if c.Run.Model == "" {
		return fmt.Errorf("run.model is required")
	}

	return nil
}
