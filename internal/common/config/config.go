// Package config provides configuration management for RepoMesh.
// It supports loading configuration from environment variables, an optional
// config file, and defaults.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for RepoMesh.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Session      SessionConfig      `mapstructure:"session"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Adapter      AdapterConfig      `mapstructure:"adapter"`
	Summarizer   SummarizerConfig   `mapstructure:"summarizer"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds the datastore connection configuration.
type DatabaseConfig struct {
	// URL is a sqlite:// or postgres:// connection string.
	URL string `mapstructure:"url"`
}

// AuthConfig holds the static API token configuration.
type AuthConfig struct {
	LocalToken string `mapstructure:"localToken"`
}

// SessionConfig holds agent session lease configuration.
type SessionConfig struct {
	TTLSeconds int `mapstructure:"ttlSeconds"`
}

// OrchestratorConfig holds the orchestrator runtime configuration.
type OrchestratorConfig struct {
	Autostart     bool `mapstructure:"autostart"`
	PollSeconds   int  `mapstructure:"pollSeconds"`
	DispatchLimit int  `mapstructure:"dispatchLimit"`
}

// AdapterConfig holds the shell adapter runtime configuration.
type AdapterConfig struct {
	Autostart             bool   `mapstructure:"autostart"`
	PollSeconds           int    `mapstructure:"pollSeconds"`
	MaxTasksPerAgentCycle int    `mapstructure:"maxTasksPerAgentCycle"`
	DefaultTimeoutSeconds int    `mapstructure:"defaultTimeoutSeconds"`
	WorkspaceRoot         string `mapstructure:"workspaceRoot"`
	// AllowedCommands is a CSV of permitted command prefixes; empty permits all.
	AllowedCommands string `mapstructure:"allowedCommands"`
	// PrepassCommands is a CSV of fallback remediation commands.
	PrepassCommands string `mapstructure:"prepassCommands"`
}

// SummarizerConfig holds the summarizer runtime configuration.
type SummarizerConfig struct {
	Autostart     bool `mapstructure:"autostart"`
	PollSeconds   int  `mapstructure:"pollSeconds"`
	MaxTasksCycle int  `mapstructure:"maxTasksCycle"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SessionTTL returns the agent session lease as a duration.
func (s SessionConfig) SessionTTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// PollInterval returns the orchestrator poll interval, floored at 1s.
func (o OrchestratorConfig) PollInterval() time.Duration {
	if o.PollSeconds < 1 {
		return time.Second
	}
	return time.Duration(o.PollSeconds) * time.Second
}

// PollInterval returns the adapter poll interval, floored at 1s.
func (a AdapterConfig) PollInterval() time.Duration {
	if a.PollSeconds < 1 {
		return time.Second
	}
	return time.Duration(a.PollSeconds) * time.Second
}

// DefaultTimeout returns the default command timeout as a duration.
func (a AdapterConfig) DefaultTimeout() time.Duration {
	return time.Duration(a.DefaultTimeoutSeconds) * time.Second
}

// AllowedCommandList returns the parsed command-prefix allowlist.
func (a AdapterConfig) AllowedCommandList() []string {
	return splitCSV(a.AllowedCommands)
}

// PrepassCommandList returns the parsed fallback pre-pass commands.
func (a AdapterConfig) PrepassCommandList() []string {
	return splitCSV(a.PrepassCommands)
}

// PollInterval returns the summarizer poll interval, floored at 5s.
func (s SummarizerConfig) PollInterval() time.Duration {
	if s.PollSeconds < 5 {
		return 5 * time.Second
	}
	return time.Duration(s.PollSeconds) * time.Second
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads configuration from defaults, an optional config file, and
// environment variables. The recognized environment options are part of the
// public behavior and bound explicitly.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("database.url", "sqlite:///./repomesh.db")
	v.SetDefault("auth.localToken", "repomesh-local-token")
	v.SetDefault("session.ttlSeconds", 120)
	v.SetDefault("orchestrator.autostart", false)
	v.SetDefault("orchestrator.pollSeconds", 5)
	v.SetDefault("orchestrator.dispatchLimit", 10)
	v.SetDefault("adapter.autostart", false)
	v.SetDefault("adapter.pollSeconds", 5)
	v.SetDefault("adapter.maxTasksPerAgentCycle", 2)
	v.SetDefault("adapter.defaultTimeoutSeconds", 600)
	v.SetDefault("adapter.workspaceRoot", ".")
	v.SetDefault("adapter.allowedCommands", "")
	v.SetDefault("adapter.prepassCommands", "")
	v.SetDefault("summarizer.autostart", false)
	v.SetDefault("summarizer.pollSeconds", 30)
	v.SetDefault("summarizer.maxTasksCycle", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	bindings := map[string]string{
		"server.host":                   "API_HOST",
		"server.port":                   "API_PORT",
		"database.url":                  "DATABASE_URL",
		"auth.localToken":               "REPO_MESH_LOCAL_TOKEN",
		"session.ttlSeconds":            "SESSION_TTL_SECONDS",
		"orchestrator.autostart":        "ORCHESTRATOR_AUTOSTART",
		"orchestrator.pollSeconds":      "ORCHESTRATOR_POLL_SECONDS",
		"orchestrator.dispatchLimit":    "ORCHESTRATOR_DISPATCH_LIMIT",
		"adapter.autostart":             "ADAPTER_AUTOSTART",
		"adapter.pollSeconds":           "ADAPTER_POLL_SECONDS",
		"adapter.maxTasksPerAgentCycle": "ADAPTER_MAX_TASKS_PER_AGENT_CYCLE",
		"adapter.defaultTimeoutSeconds": "ADAPTER_DEFAULT_TIMEOUT_SECONDS",
		"adapter.workspaceRoot":         "ADAPTER_WORKSPACE_ROOT",
		"adapter.allowedCommands":       "ADAPTER_ALLOWED_COMMANDS",
		"adapter.prepassCommands":       "ADAPTER_PREPASS_COMMANDS",
		"summarizer.autostart":          "SUMMARIZER_AUTOSTART",
		"summarizer.pollSeconds":        "SUMMARIZER_POLL_SECONDS",
		"summarizer.maxTasksCycle":      "SUMMARIZER_MAX_TASKS_CYCLE",
		"logging.level":                 "REPOMESH_LOG_LEVEL",
		"logging.format":                "REPOMESH_LOG_FORMAT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
