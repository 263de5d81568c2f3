// Package config loads syncbridge configuration from config files,
// environment variables, and .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultListenAddr   = ":8420"
	DefaultDatabasePath = "syncbridge.db"
)

// Config holds the application configuration loaded from all sources.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Output  string

	// Config file
	ConfigFile string

	// Server
	ListenAddr string
	APIToken   string

	// Store endpoints. Empty URLs mean the in-memory adapters, which is
	// only useful for demos and tests.
	RegistryURL     string
	RegistryToken   string
	AgentStoreURL   string
	AgentStoreToken string

	// Persistence. "memory" keeps the ledger and locks in process.
	DatabasePath string

	// Run orchestration
	LockTTL            time.Duration
	LockAcquireTimeout time.Duration
	MaxAttempts        uint
	RetryAfter         time.Duration
	CompactEvery       int64

	// Resolution
	RulesFile           string
	ConfidenceThreshold float64
	Scorer              string // "heuristic" or "genai"
	GeminiAPIKey        string
	GeminiModel         string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables (SYNCBRIDGE_ prefix)
// 3. .env files
// 4. Config file (~/.syncbridge.yaml)
// 5. Defaults
func Load() (*Config, error) {
	loadEnvFiles()

	viper.SetEnvPrefix("SYNCBRIDGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	bindAPIKeys()

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName(".syncbridge")
		}
	}

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()

	config := &Config{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		NoColor: viper.GetBool("no-color"),
		Output:  viper.GetString("output"),

		ConfigFile: viper.ConfigFileUsed(),

		ListenAddr: viper.GetString("listen_addr"),
		APIToken:   viper.GetString("api_token"),

		RegistryURL:     viper.GetString("registry_url"),
		RegistryToken:   viper.GetString("registry_token"),
		AgentStoreURL:   viper.GetString("agent_store_url"),
		AgentStoreToken: viper.GetString("agent_store_token"),

		DatabasePath: viper.GetString("database_path"),

		LockTTL:            viper.GetDuration("lock_ttl"),
		LockAcquireTimeout: viper.GetDuration("lock_acquire_timeout"),
		MaxAttempts:        viper.GetUint("max_attempts"),
		RetryAfter:         viper.GetDuration("retry_after"),
		CompactEvery:       viper.GetInt64("compact_every"),

		RulesFile:           viper.GetString("rules_file"),
		ConfidenceThreshold: viper.GetFloat64("confidence_threshold"),
		Scorer:              viper.GetString("scorer"),
		GeminiAPIKey:        viper.GetString("gemini_api_key"),
		GeminiModel:         viper.GetString("gemini_model"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.DatabasePath == "" {
		config.DatabasePath = DefaultDatabasePath
	}
	if config.Scorer == "" {
		config.Scorer = "heuristic"
	}

	return config, nil
}

// UpdateFromFlags applies parsed command flags so they take precedence
// over config file and environment values.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, output string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if output != "" {
		c.Output = output
	}
}

// MemoryOnly reports whether persistence is disabled.
func (c *Config) MemoryOnly() bool {
	return c.DatabasePath == "memory"
}

// DSN returns the SQLite connection string for the configured database.
func (c *Config) DSN() string {
	if c.MemoryOnly() {
		return "file::memory:?cache=shared"
	}
	return c.DatabasePath
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}
	for _, envFile := range envFiles {
		_ = godotenv.Load(envFile)
	}
}

// bindAPIKeys binds unprefixed API key variables that commonly live in
// .env files.
func bindAPIKeys() {
	bindings := map[string][]string{
		"gemini_api_key":    {"SYNCBRIDGE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"registry_token":    {"SYNCBRIDGE_REGISTRY_TOKEN", "REGISTRY_TOKEN"},
		"agent_store_token": {"SYNCBRIDGE_AGENT_STORE_TOKEN", "AGENT_STORE_TOKEN"},
		"api_token":         {"SYNCBRIDGE_API_TOKEN", "API_TOKEN"},
	}

	for key, envVars := range bindings {
		args := append([]string{key}, envVars...)
		if err := viper.BindEnv(args...); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind environment variable %s: %v\n", key, err)
		}
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
