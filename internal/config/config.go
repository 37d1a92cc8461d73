package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// DefaultThreshold is used when neither the config file nor THRESHOLD set one
const DefaultThreshold = 50

// Acknowledge modes for queue deliveries
const (
	AckModeAuto   = "auto"
	AckModeManual = "manual"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds the admin HTTP server configuration. Port 0 disables it.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration. An empty name uses
// the default exchange.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	// AckMode is "auto" (message removed on fetch) or "manual" (acked after processing)
	AckMode string `yaml:"ack_mode"`
}

// AutoAck reports whether deliveries are acknowledged on fetch
func (c ConsumerConfig) AutoAck() bool {
	return c.AckMode != AckModeManual
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds intake loop configuration
type WorkerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPollInterval   time.Duration `yaml:"max_poll_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	DedupTimeout      time.Duration `yaml:"dedup_timeout"`
	StartupDelay      time.Duration `yaml:"startup_delay"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig holds the external mining command and the options passed to every job
type PipelineConfig struct {
	Command             string   `yaml:"command"`
	Args                []string `yaml:"args"`
	StoragePath         string   `yaml:"storage_path"`
	Threshold           *int     `yaml:"threshold"`
	TestFilesOnly       bool     `yaml:"test_files_only"`
	StoreFullSourceCode *bool    `yaml:"store_full_source_code"`
}

// ThresholdValue returns the configured threshold; an unset threshold means DefaultThreshold
func (p PipelineConfig) ThresholdValue() int {
	if p.Threshold == nil {
		return DefaultThreshold
	}
	return *p.Threshold
}

// StoreFiles reports whether full source code is stored; defaults to true
func (p PipelineConfig) StoreFiles() bool {
	return p.StoreFullSourceCode == nil || *p.StoreFullSourceCode
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides settings from the environment variables used by the
// container deployment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("QUEUE_HOST"); v != "" {
		c.RabbitMQ.Host = v
	}
	if v := os.Getenv("REF_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REF_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("REF_DBPWD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		c.Pipeline.StoragePath = v
	}
	if v := os.Getenv("THRESHOLD"); v != "" {
		threshold, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid THRESHOLD %q: %w", v, err)
		}
		c.Pipeline.Threshold = &threshold
	}
	if v := os.Getenv("TEST_ONLY"); v != "" {
		testOnly, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TEST_ONLY %q: %w", v, err)
		}
		c.Pipeline.TestFilesOnly = testOnly
	}
	if v := os.Getenv("STORE_FILES"); v != "" {
		storeFiles, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STORE_FILES %q: %w", v, err)
		}
		c.Pipeline.StoreFullSourceCode = &storeFiles
	}
	return nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	setString(&c.App.Name, "refactoring-intake-worker")
	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")

	setDuration(&c.Server.ReadTimeout, 10*time.Second)
	setDuration(&c.Server.WriteTimeout, 10*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)

	setInt(&c.Database.Port, 5432)
	setString(&c.Database.SSLMode, "disable")
	setInt(&c.Database.MaxOpenConns, 5)
	setInt(&c.Database.MaxIdleConns, 2)
	setDuration(&c.Database.ConnMaxLifetime, 30*time.Minute)
	setDuration(&c.Database.ConnMaxIdleTime, 5*time.Minute)

	setString(&c.RabbitMQ.Host, "localhost")
	setInt(&c.RabbitMQ.Port, 5672)
	setString(&c.RabbitMQ.User, "guest")
	setString(&c.RabbitMQ.Password, "guest")
	setString(&c.RabbitMQ.VHost, "/")
	setString(&c.RabbitMQ.Queue.Name, "refactoring")
	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.Consumer.AckMode, AckModeAuto)
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 5*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDuration(&c.RabbitMQ.Connection.ConnectionTimeout, 30*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	if c.RabbitMQ.Publish.BackoffMultiplier == 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2.0
	}

	setDuration(&c.Worker.PollInterval, 500*time.Millisecond)
	setDuration(&c.Worker.MaxPollInterval, 10*time.Second)
	setDuration(&c.Worker.ReconnectInterval, time.Second)
	setDuration(&c.Worker.JobTimeout, 2*time.Hour)
	setDuration(&c.Worker.DedupTimeout, 5*time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	if c.Pipeline.Threshold == nil {
		threshold := DefaultThreshold
		c.Pipeline.Threshold = &threshold
	}
}

// ValidateWorkerConfig checks the settings the intake worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Server.Port < 0 || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be 0 or between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if ack := c.RabbitMQ.Consumer.AckMode; ack != AckModeAuto && ack != AckModeManual {
		return fmt.Errorf("invalid rabbitmq consumer ack_mode: %q (must be %q or %q)", ack, AckModeAuto, AckModeManual)
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.MaxPollInterval < c.Worker.PollInterval {
		return fmt.Errorf("worker max_poll_interval must not be less than poll_interval")
	}

	if c.Worker.ReconnectInterval <= 0 {
		return fmt.Errorf("worker reconnect_interval must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.DedupTimeout <= 0 {
		return fmt.Errorf("worker dedup_timeout must be greater than 0")
	}

	if c.Pipeline.Command == "" {
		return fmt.Errorf("pipeline command is required")
	}

	if c.Pipeline.StoragePath == "" {
		return fmt.Errorf("pipeline storage_path is required")
	}

	if c.Pipeline.ThresholdValue() < 0 {
		return fmt.Errorf("pipeline threshold must not be negative")
	}

	return nil
}

// ValidateEnqueueConfig checks the settings the enqueue tool needs
func (c *Config) ValidateEnqueueConfig() error {
	return c.validateRabbitMQ()
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
