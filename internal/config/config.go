// Package config loads tool configuration from .autocode/config.yaml, the
// environment (AUTOCODE_* variables), and flags, in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the resolved tool configuration.
type Config struct {
	Adapter string `mapstructure:"adapter"`

	// SQLite
	DBPath string `mapstructure:"db_path"`

	// GitHub
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`

	// Linear
	APIKey string `mapstructure:"api_key"`

	// Audit
	AuditThreshold int `mapstructure:"audit_threshold"`

	Actor string `mapstructure:"actor"`
}

// Load reads configuration for projectDir. Missing config files are fine;
// defaults and environment variables still apply.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, ".autocode"))

	v.SetEnvPrefix("AUTOCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("adapter", "sqlite")
	v.SetDefault("db_path", filepath.Join(projectDir, ".autocode", "autocode.db"))
	v.SetDefault("audit_threshold", 10)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The Linear key is also honored under its conventional name.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LINEAR_API_KEY")
	}
	return &cfg, nil
}

// fileConfig is what lands in config.yaml. The API key stays in the
// environment, never on disk.
type fileConfig struct {
	Adapter        string `yaml:"adapter"`
	DBPath         string `yaml:"db_path,omitempty"`
	Owner          string `yaml:"owner,omitempty"`
	Repo           string `yaml:"repo,omitempty"`
	AuditThreshold int    `yaml:"audit_threshold,omitempty"`
}

// Save writes the config to .autocode/config.yaml, creating the directory
// if needed.
func Save(projectDir string, cfg *Config) error {
	dir := filepath.Join(projectDir, ".autocode")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(fileConfig{
		Adapter:        cfg.Adapter,
		DBPath:         cfg.DBPath,
		Owner:          cfg.Owner,
		Repo:           cfg.Repo,
		AuditThreshold: cfg.AuditThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolveActor determines who to attribute tracker writes to. Precedence:
// explicit flag, AUTOCODE_ACTOR, git user.name, $USER, "unknown".
func ResolveActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := os.Getenv("AUTOCODE_ACTOR"); actor != "" {
		return actor
	}
	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
