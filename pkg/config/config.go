// Package config loads operator configuration from the environment with
// sane defaults. .env loading happens in main via godotenv before this
// package reads anything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the full operator configuration.
type Config struct {
	// DataDir holds the three SQLite files (tickets, actions, eval).
	DataDir string

	// ApprovalMode forces human approval on every action.
	ApprovalMode bool

	// RefuseCriticalRisk refuses execution at critical session risk
	// instead of requiring approval.
	RefuseCriticalRisk bool

	// AnthropicAPIKey authenticates the diagnosis client. Required for
	// the agent daemon, unused by the monitor.
	AnthropicAPIKey string

	// Model overrides the diagnosis model identifier.
	Model string

	// HTTPPort is where the API server listens.
	HTTPPort int

	// MonitorInterval and AgentInterval are the daemon tick cadences.
	MonitorInterval time.Duration
	AgentInterval   time.Duration

	// VerificationDelay is the post-remediation re-observation wait.
	VerificationDelay time.Duration

	// ShutdownTimeout bounds graceful shutdown of each daemon.
	ShutdownTimeout time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:            "./data",
		ApprovalMode:       false,
		RefuseCriticalRisk: true,
		HTTPPort:           8080,
		MonitorInterval:    30 * time.Second,
		AgentInterval:      30 * time.Second,
		VerificationDelay:  20 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load returns the defaults overlaid with OPERATOR_* environment
// variables.
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv("OPERATOR_DB_PATH"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OPERATOR_APPROVAL_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("OPERATOR_APPROVAL_MODE: %w", err)
		}
		cfg.ApprovalMode = b
	}
	if v := os.Getenv("OPERATOR_REFUSE_CRITICAL_RISK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("OPERATOR_REFUSE_CRITICAL_RISK: %w", err)
		}
		cfg.RefuseCriticalRisk = b
	}
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Model = os.Getenv("VIGIL_MODEL")

	if v := os.Getenv("HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = p
	}
	var err error
	if cfg.MonitorInterval, err = durationEnv("OPERATOR_MONITOR_INTERVAL", cfg.MonitorInterval); err != nil {
		return cfg, err
	}
	if cfg.AgentInterval, err = durationEnv("OPERATOR_AGENT_INTERVAL", cfg.AgentInterval); err != nil {
		return cfg, err
	}
	if cfg.VerificationDelay, err = durationEnv("OPERATOR_VERIFICATION_DELAY", cfg.VerificationDelay); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("OPERATOR_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// TicketsDBPath returns the tickets database file path.
func (c Config) TicketsDBPath() string { return filepath.Join(c.DataDir, "tickets.db") }

// ActionsDBPath returns the actions database file path.
func (c Config) ActionsDBPath() string { return filepath.Join(c.DataDir, "actions.db") }

// EvalDBPath returns the eval database file path.
func (c Config) EvalDBPath() string { return filepath.Join(c.DataDir, "eval.db") }
