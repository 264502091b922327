// Package config loads the manager's file configuration: the provider
// registry, client identity, timeouts, logging and HTTP settings. YAML and TOML
// files are supported; ${VAR} references are expanded from the environment
// before parsing.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpmgr"
)

// Config is the root of a configuration file.
type Config struct {
	Client   ClientConfig          `yaml:"client" toml:"client"`
	Timeouts TimeoutsConfig        `yaml:"timeouts" toml:"timeouts"`
	Logging  LoggingConfig         `yaml:"logging" toml:"logging"`
	HTTP     HTTPConfig            `yaml:"http" toml:"http"`
	Servers  []mcpmgr.ServerConfig `yaml:"servers" toml:"servers"`
}

type ClientConfig struct {
	Name                  string `yaml:"name" toml:"name"`
	Version               string `yaml:"version" toml:"version"`
	MaxConcurrentConnects int    `yaml:"max_concurrent_connects" toml:"max_concurrent_connects"`
	ValidateArguments     bool   `yaml:"validate_arguments" toml:"validate_arguments"`
	LogJSONRPC            bool   `yaml:"log_jsonrpc" toml:"log_jsonrpc"`
}

// TimeoutsConfig holds the bounds as duration strings ("15s", "200ms") and
// their parsed values.
type TimeoutsConfig struct {
	Handshake        time.Duration `yaml:"-" toml:"-"`
	Discovery        time.Duration `yaml:"-" toml:"-"`
	Execute          time.Duration `yaml:"-" toml:"-"`
	TerminationGrace time.Duration `yaml:"-" toml:"-"`
	Init             time.Duration `yaml:"-" toml:"-"`

	HandshakeRaw        string `yaml:"handshake" toml:"handshake"`
	DiscoveryRaw        string `yaml:"discovery" toml:"discovery"`
	ExecuteRaw          string `yaml:"execute" toml:"execute"`
	TerminationGraceRaw string `yaml:"termination_grace" toml:"termination_grace"`
	InitRaw             string `yaml:"init" toml:"init"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	GatewayPath    string   `yaml:"gateway_path" toml:"gateway_path"`
}

const (
	defaultHTTPAddr    = "127.0.0.1:8700"
	defaultGatewayPath = "/mcp"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the built-in configuration with the sequential-thinking
// provider.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Addr:        defaultHTTPAddr,
			GatewayPath: defaultGatewayPath,
		},
		Servers: []mcpmgr.ServerConfig{{
			ID:          "sequential-thinking",
			Name:        "Sequential Thinking MCP",
			Description: "An MCP server for dynamic and reflective problem-solving through a structured thinking process.",
			Process:     mcpmgr.ProcessConfig{Command: "sequential-thinking"},
			Icon:        "brain",
			Tags:        []string{"Problem Solving", "AI", "Reflection"},
			AutoConnect: true,
		}},
	}
	return cfg
}

// Load reads the file at path. The format is picked from the extension:
// .toml for TOML, anything else is parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes data in the given format ("yaml" or "toml"), expands
// environment references, parses durations and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg.Timeouts); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(t *TimeoutsConfig) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"handshake", t.HandshakeRaw, &t.Handshake},
		{"discovery", t.DiscoveryRaw, &t.Discovery},
		{"execute", t.ExecuteRaw, &t.Execute},
		{"termination_grace", t.TerminationGraceRaw, &t.TerminationGrace},
		{"init", t.InitRaw, &t.Init},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.HTTP.GatewayPath == "" {
		c.HTTP.GatewayPath = defaultGatewayPath
	}
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Client.MaxConcurrentConnects < 0 {
		return fmt.Errorf("client.max_concurrent_connects must not be negative")
	}
	if c.Timeouts.TerminationGrace < 0 {
		return fmt.Errorf("timeouts.termination_grace must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	return nil
}

// Registry builds the provider registry from the servers section.
func (c *Config) Registry() mcpmgr.Registry {
	return mcpmgr.NewRegistry(c.Servers...)
}

// ManagerOptions maps the client and timeout sections onto manager options.
func (c *Config) ManagerOptions(logger *slog.Logger) *mcpmgr.ManagerOptions {
	return &mcpmgr.ManagerOptions{
		ClientName:            c.Client.Name,
		ClientVersion:         c.Client.Version,
		HandshakeTimeout:      c.Timeouts.Handshake,
		DiscoveryTimeout:      c.Timeouts.Discovery,
		ExecuteTimeout:        c.Timeouts.Execute,
		TerminationGrace:      c.Timeouts.TerminationGrace,
		MaxConcurrentConnects: c.Client.MaxConcurrentConnects,
		ValidateArguments:     c.Client.ValidateArguments,
		LogJSONRPC:            c.Client.LogJSONRPC,
		Logger:                logger,
	}
}
