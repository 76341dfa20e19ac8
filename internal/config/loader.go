package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file, interpolating
// ${VAR} environment references and filling unset fields from Defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with -config flag", absPath)
	}

	interpolated := interpolateEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Broker.Server == "" {
		cfg.Broker.Server = defaults.Broker.Server
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = defaults.Broker.Port
	}
	if cfg.Executor.StateDir == "" {
		cfg.Executor.StateDir = defaults.Executor.StateDir
	}
	if cfg.Executor.JobDirRoot == "" {
		cfg.Executor.JobDirRoot = filepath.Join(cfg.Executor.StateDir, "builds")
	}
	if cfg.Executor.DefaultUsername == "" {
		cfg.Executor.DefaultUsername = defaults.Executor.DefaultUsername
	}
	if cfg.Executor.PrivateKeyFile == "" {
		cfg.Executor.PrivateKeyFile = defaults.Executor.PrivateKeyFile
	}
	if cfg.Executor.FingerPort == 0 {
		cfg.Executor.FingerPort = defaults.Executor.FingerPort
	}
	if cfg.Executor.ExecutionWrapper == "" {
		cfg.Executor.ExecutionWrapper = defaults.Executor.ExecutionWrapper
	}
	if cfg.Merger.GitDir == "" {
		cfg.Merger.GitDir = filepath.Join(cfg.Executor.StateDir, "git")
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(cfg.Executor.StateDir, "history.db")
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Broker.Port <= 0 || cfg.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be in 1..65535 (got %d)", cfg.Broker.Port)
	}
	if cfg.Executor.FingerPort <= 0 || cfg.Executor.FingerPort > 65535 {
		return fmt.Errorf("executor.finger_port must be in 1..65535 (got %d)", cfg.Executor.FingerPort)
	}
	switch cfg.Executor.ExecutionWrapper {
	case "passthrough", "bubblewrap":
	default:
		return fmt.Errorf("executor.execution_wrapper must be passthrough or bubblewrap (got %q)",
			cfg.Executor.ExecutionWrapper)
	}
	for name, conn := range cfg.Merger.Connections {
		if conn.Hostname == "" {
			return fmt.Errorf("merger.connections[%s].hostname is required", name)
		}
		if envVarPattern.MatchString(conn.BaseURL) {
			matches := envVarPattern.FindStringSubmatch(conn.BaseURL)
			return fmt.Errorf("merger.connections[%s].base_url: environment variable ${%s} is not set",
				name, matches[1])
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (caught by validation if required).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
