// Package config loads ScribeFS configuration from YAML files, environment
// variables, and defaults via viper.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SCRIBEFS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full ScribeFS configuration. Each process reads the
// sections relevant to its role.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// NameServer configures the coordinator process.
	NameServer NameServerConfig `mapstructure:"nameserver" yaml:"nameserver"`

	// Storage configures a storage server process.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Client configures the interactive client driver.
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// NameServerConfig configures the name server.
type NameServerConfig struct {
	// BindAddress is the IP to bind. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the single endpoint serving clients and storage servers.
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	// DataFile is the metadata snapshot path.
	DataFile string `mapstructure:"data_file" validate:"required" yaml:"data_file"`

	// HeartbeatInterval is the liveness probe period for storage servers.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0" yaml:"heartbeat_interval"`

	// ProbeTimeout bounds the existence/liveness probes to storage servers.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0" yaml:"probe_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// EnableExec allows the EXEC operation, which runs file lines through
	// the platform shell on the name server host. Off by default.
	EnableExec bool `mapstructure:"enable_exec" yaml:"enable_exec"`

	// API configures the read-only admin HTTP endpoint.
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// APIConfig configures the admin HTTP endpoint (health, metrics, rosters).
type APIConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	Port        int    `mapstructure:"port" validate:"omitempty,gt=0,lte=65535" yaml:"port"`
}

// StorageConfig configures a storage server.
type StorageConfig struct {
	// BindAddress is the IP to bind both endpoints. Empty binds all.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// AdvertiseIP is the address published to the name server and clients.
	// Defaults to 127.0.0.1 when unset; set it when the bind address is
	// not reachable by peers.
	AdvertiseIP string `mapstructure:"advertise_ip" yaml:"advertise_ip"`

	// ControlPort serves the name server and peer storage servers.
	ControlPort int `mapstructure:"control_port" validate:"required,gt=0,lte=65535" yaml:"control_port"`

	// ClientPort serves end-user clients.
	ClientPort int `mapstructure:"client_port" validate:"required,gt=0,lte=65535" yaml:"client_port"`

	// Root is the storage directory for file content and checkpoints.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// NameServerAddr is the name server endpoint to register with.
	NameServerAddr string `mapstructure:"nameserver_addr" validate:"required" yaml:"nameserver_addr"`

	// ReplicationTimeout bounds each fire-and-forget replication exchange.
	ReplicationTimeout time.Duration `mapstructure:"replication_timeout" validate:"gt=0" yaml:"replication_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// MaxConnections limits concurrent connections per endpoint.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// Metrics configures the Prometheus scrape endpoint.
	Metrics APIConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ClientConfig configures the interactive client driver.
type ClientConfig struct {
	// Username is the self-declared identity sent to the name server.
	Username string `mapstructure:"username" yaml:"username"`

	// NameServerAddr is the coordinator endpoint.
	NameServerAddr string `mapstructure:"nameserver_addr" validate:"required" yaml:"nameserver_addr"`

	// RequestTimeout bounds each storage server exchange. 0 disables.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("nameserver.bind_address", "")
	v.SetDefault("nameserver.port", 8080)
	v.SetDefault("nameserver.data_file", "nm_data.dat")
	v.SetDefault("nameserver.heartbeat_interval", 5*time.Second)
	v.SetDefault("nameserver.probe_timeout", 300*time.Millisecond)
	v.SetDefault("nameserver.shutdown_timeout", 10*time.Second)
	v.SetDefault("nameserver.max_connections", 0)
	v.SetDefault("nameserver.enable_exec", false)
	v.SetDefault("nameserver.api.enabled", false)
	v.SetDefault("nameserver.api.bind_address", "127.0.0.1")
	v.SetDefault("nameserver.api.port", 8081)

	v.SetDefault("storage.bind_address", "")
	v.SetDefault("storage.advertise_ip", "127.0.0.1")
	v.SetDefault("storage.control_port", 9000)
	v.SetDefault("storage.client_port", 10000)
	v.SetDefault("storage.root", "./storage")
	v.SetDefault("storage.nameserver_addr", "127.0.0.1:8080")
	v.SetDefault("storage.replication_timeout", 3*time.Second)
	v.SetDefault("storage.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.max_connections", 0)
	v.SetDefault("storage.metrics.enabled", false)
	v.SetDefault("storage.metrics.bind_address", "127.0.0.1")
	v.SetDefault("storage.metrics.port", 9100)

	v.SetDefault("client.username", "")
	v.SetDefault("client.nameserver_addr", "127.0.0.1:8080")
	v.SetDefault("client.request_timeout", 0)
}

// Load reads configuration from the given file (optional), the environment,
// and defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCRIBEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags across the whole configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("config validation setup: %w", err)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WriteExample renders the default configuration as YAML to path, creating
// parent directories as needed. Used by the init command.
func WriteExample(path string) error {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to build default config: %w", err)
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
