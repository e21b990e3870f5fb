// Package config provides the configuration system for the sheets connector.
// A single ConnectorConfig describes the stream source, the Google Sheets
// sink credentials, and the reconnect policy.
//
// The configuration is organized into logical sections:
//   - Sheets: endpoint credentials and append options
//   - Source: which ordered stream feeds the connector
//   - Reliability: reconnect backoff bounds and shutdown behavior
//   - Timeouts: connection and request timeouts
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg, err := config.Load("connector.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

const (
	// DefaultBackoffMin is the first reconnect wait
	DefaultBackoffMin = time.Second
	// DefaultBackoffMax is the reconnect wait ceiling (24 hours)
	DefaultBackoffMax = 24 * time.Hour

	// SinkTypeSheets is the Google Sheets sink type
	SinkTypeSheets = "google-sheets"

	// Source types
	SourceTypeStdin     = "stdin"
	SourceTypeFile      = "file"
	SourceTypeKafka     = "kafka"
	SourceTypeJetStream = "jetstream"
)

// ConnectorConfig is the root configuration of a connector instance.
type ConnectorConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type selects the sink implementation (google-sheets)
	Type string `yaml:"type" json:"type"`

	Sheets        SheetsConfig        `yaml:"sheets" json:"sheets"`
	Source        SourceConfig        `yaml:"source" json:"source"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SheetsConfig holds the Google Sheets endpoint settings. The three secrets
// are resolved on every connect attempt, never cached.
type SheetsConfig struct {
	GooglePrivateKey  Secret `yaml:"google_private_key" json:"-"`
	GoogleClientEmail Secret `yaml:"google_client_email" json:"-"`
	GoogleTokenURL    Secret `yaml:"google_token_url" json:"-"`

	// Endpoint overrides the Sheets API base URL (emulators, tests)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Scopes requested for the service account token
	Scopes []string `yaml:"scopes" json:"scopes"`
	// ValueInputOption is RAW or USER_ENTERED
	ValueInputOption string `yaml:"value_input_option" json:"value_input_option"`
	// InsertDataOption is OVERWRITE or INSERT_ROWS
	InsertDataOption string `yaml:"insert_data_option" json:"insert_data_option"`
	// RateLimitPerSec caps append calls per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// EnableHTTP2 negotiates HTTP/2 on the API transport
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
}

// SourceConfig selects and configures the ordered input stream.
type SourceConfig struct {
	// Type is one of stdin, file, kafka, jetstream
	Type string `yaml:"type" json:"type"`
	// FilePath is read line by line when Type is file
	FilePath string `yaml:"file_path" json:"file_path"`
	// MaxLineBytes bounds a single line of the stdin/file sources
	MaxLineBytes int `yaml:"max_line_bytes" json:"max_line_bytes"`

	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	JetStream JetStreamConfig `yaml:"jetstream" json:"jetstream"`
}

// KafkaConfig configures the Kafka consumer-group source.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	Topic    string   `yaml:"topic" json:"topic"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
	// InitialOffset is oldest or newest
	InitialOffset string `yaml:"initial_offset" json:"initial_offset"`
	// Version is the Kafka protocol version, e.g. 2.8.0
	Version string `yaml:"version" json:"version"`
}

// JetStreamConfig configures the NATS JetStream durable pull consumer source.
type JetStreamConfig struct {
	URL          string        `yaml:"url" json:"url"`
	Stream       string        `yaml:"stream" json:"stream"`
	Subject      string        `yaml:"subject" json:"subject"`
	Durable      string        `yaml:"durable" json:"durable"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// AckWait is how long the server waits for an ack before redelivering.
	// Zero derives it from the delivery budget; see JetStreamAckWait.
	AckWait time.Duration `yaml:"ack_wait" json:"ack_wait"`
}

// ReliabilityConfig contains reconnect and shutdown settings.
type ReliabilityConfig struct {
	// BackoffMin is the first reconnect wait
	BackoffMin time.Duration `yaml:"backoff_min" json:"backoff_min"`
	// BackoffMax is the wait ceiling; a wait reaching it is never slept
	BackoffMax time.Duration `yaml:"backoff_max" json:"backoff_max"`
	// MaxReconnectAttempts bounds the backoff sequence (0 = unbounded)
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	// ReconnectOnRejection tears the connection down on transport or
	// authentication rejections instead of continuing on it
	ReconnectOnRejection bool `yaml:"reconnect_on_rejection" json:"reconnect_on_rejection"`
	// ShutdownGrace bounds how long an in-flight delivery may run after cancellation
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// TimeoutConfig contains timeout settings.
type TimeoutConfig struct {
	// Connection bounds a single connect attempt (token handshake)
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Request bounds a single append call
	Request time.Duration `yaml:"request" json:"request"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr serves /metrics when non-empty, e.g. :9090
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewConnectorConfig creates a ConnectorConfig with production defaults.
func NewConnectorConfig(name string) *ConnectorConfig {
	return &ConnectorConfig{
		Name: name,
		Type: SinkTypeSheets,
		Sheets: SheetsConfig{
			GoogleTokenURL:   Secret("https://oauth2.googleapis.com/token"),
			Scopes:           []string{"https://www.googleapis.com/auth/spreadsheets"},
			ValueInputOption: "USER_ENTERED",
			InsertDataOption: "OVERWRITE",
			EnableHTTP2:      true,
		},
		Source: SourceConfig{
			Type:         SourceTypeStdin,
			MaxLineBytes: 1 << 20,
			Kafka: KafkaConfig{
				ClientID:      "nebula-sheets",
				InitialOffset: "oldest",
			},
			JetStream: JetStreamConfig{
				FetchTimeout: 5 * time.Second,
			},
		},
		Reliability: ReliabilityConfig{
			BackoffMin:    DefaultBackoffMin,
			BackoffMax:    DefaultBackoffMax,
			ShutdownGrace: 10 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Connection: 30 * time.Second,
			Request:    60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogEncoding: "json",
		},
	}
}

// Validate checks required fields and value ranges. Secrets are not resolved
// here; see SheetsConfig.ResolveCredentials.
func (c *ConnectorConfig) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "name is required")
	}
	if c.Type != SinkTypeSheets {
		return errors.Newf(errors.ErrorTypeConfig, "unsupported sink type %q", c.Type)
	}
	if err := c.Reliability.validate(); err != nil {
		return err
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	if c.Sheets.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "sheets.rate_limit_per_sec cannot be negative")
	}
	if c.Source.Type == SourceTypeJetStream {
		if ack := c.Source.JetStream.AckWait; ack != 0 && ack <= c.DeliveryBudget() {
			return errors.Newf(errors.ErrorTypeConfig,
				"source.jetstream.ack_wait %s must exceed the delivery budget %s", ack, c.DeliveryBudget())
		}
	}
	if c.Sheets.GooglePrivateKey.IsZero() || c.Sheets.GoogleClientEmail.IsZero() || c.Sheets.GoogleTokenURL.IsZero() {
		return errors.New(errors.ErrorTypeConfig, "sheets credentials google_private_key, google_client_email and google_token_url are required")
	}
	return nil
}

const ackWaitMargin = 30 * time.Second

// DeliveryBudget is the longest one record can be held between being pulled
// from the source and being acked: a rate-limit slot, one append call and the
// shutdown grace.
func (c *ConnectorConfig) DeliveryBudget() time.Duration {
	d := c.Timeouts.Request + c.Reliability.ShutdownGrace
	if r := c.Sheets.RateLimitPerSec; r > 0 {
		d += time.Duration(float64(time.Second) / r)
	}
	return d
}

// JetStreamAckWait returns source.jetstream.ack_wait, or the delivery budget
// plus a margin when it is unset.
func (c *ConnectorConfig) JetStreamAckWait() time.Duration {
	if c.Source.JetStream.AckWait > 0 {
		return c.Source.JetStream.AckWait
	}
	return c.DeliveryBudget() + ackWaitMargin
}

func (r *ReliabilityConfig) validate() error {
	if r.BackoffMin <= 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.backoff_min must be positive")
	}
	// a wait equal to the ceiling is never slept or attempted
	if r.BackoffMax <= r.BackoffMin {
		return errors.New(errors.ErrorTypeConfig, "reliability.backoff_max must be greater than backoff_min")
	}
	if r.MaxReconnectAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.max_reconnect_attempts cannot be negative")
	}
	if r.ShutdownGrace < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.shutdown_grace cannot be negative")
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch s.Type {
	case SourceTypeStdin:
	case SourceTypeFile:
		if s.FilePath == "" {
			return errors.New(errors.ErrorTypeConfig, "source.file_path is required for file sources")
		}
	case SourceTypeKafka:
		if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" || s.Kafka.GroupID == "" {
			return errors.New(errors.ErrorTypeConfig, "source.kafka requires brokers, topic and group_id")
		}
		switch s.Kafka.InitialOffset {
		case "", "oldest", "newest":
		default:
			return errors.Newf(errors.ErrorTypeConfig, "source.kafka.initial_offset %q must be oldest or newest", s.Kafka.InitialOffset)
		}
	case SourceTypeJetStream:
		if s.JetStream.URL == "" || s.JetStream.Stream == "" || s.JetStream.Durable == "" {
			return errors.New(errors.ErrorTypeConfig, "source.jetstream requires url, stream and durable")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown source type %q", s.Type)
	}
	return nil
}

// String returns a redacted one-line summary, safe to log.
func (c *ConnectorConfig) String() string {
	return fmt.Sprintf("name=%s type=%s source=%s backoff=[%s,%s] secrets=%s/%s/%s",
		c.Name, c.Type, c.Source.Type,
		c.Reliability.BackoffMin, c.Reliability.BackoffMax,
		c.Sheets.GooglePrivateKey, c.Sheets.GoogleClientEmail, c.Sheets.GoogleTokenURL)
}
