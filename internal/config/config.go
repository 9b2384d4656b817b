package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/brenner/internal/threadstatus"
)

// EnvPrefix is the prefix of environment overrides, e.g. BRENNER_API_PORT
const EnvPrefix = "BRENNER_"

// Config represents the application configuration
type Config struct {
	General struct {
		DataDir    string `koanf:"data_dir"`
		ThreadsDir string `koanf:"threads_dir"`
		Operator   string `koanf:"operator"`
		AnchorBase string `koanf:"anchor_base"`
	} `koanf:"general"`

	Log LogConfig `koanf:"log"`

	API struct {
		Port      int     `koanf:"port"`
		RateLimit float64 `koanf:"rate_limit"`
	} `koanf:"api"`

	Store struct {
		RebuildWorkers int `koanf:"rebuild_workers"`
	} `koanf:"store"`

	Roles map[string]RoleConfig `koanf:"roles"`
}

// LogConfig selects level and output format
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RoleConfig struct {
	DisplayName string   `koanf:"display_name"`
	Agents      []string `koanf:"agents"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.data_dir":      "./brenner_data",
		"general.threads_dir":   "",
		"general.operator":      "Operator",
		"general.anchor_base":   "/transcript",
		"log.level":             "info",
		"log.format":            "console",
		"api.port":              8787,
		"api.rate_limit":        5.0,
		"store.rebuild_workers": 4,
	}
}

// LoadConfig loads defaults, then a TOML file, then BRENNER_ environment
// variables. A .env file in the working directory is read into the
// environment first.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./brenner.toml", "$HOME/.brenner.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// BRENNER_API_RATE_LIMIT -> api.rate_limit: only the first underscore separates the section
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if config.General.ThreadsDir == "" {
		config.General.ThreadsDir = filepath.Join(config.General.DataDir, "threads")
	}

	return &config, nil
}

// ArtifactsDir is where per-session artifact files live
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.General.DataDir, "artifacts")
}

// AnomaliesDir is the root of the anomaly session files and index
func (c *Config) AnomaliesDir() string {
	return filepath.Join(c.General.DataDir, "anomalies")
}

// Registry builds the role registry, falling back to the default roles when
// none are configured
func (c *Config) Registry() *threadstatus.Registry {
	if len(c.Roles) == 0 {
		return threadstatus.DefaultRegistry()
	}
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	roles := make([]threadstatus.Role, 0, len(names))
	for _, name := range names {
		rc := c.Roles[name]
		roles = append(roles, threadstatus.Role{Name: name, DisplayName: rc.DisplayName, Agents: rc.Agents})
	}
	return threadstatus.NewRegistry(roles)
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Brenner Configuration

[general]
data_dir = "./brenner_data"
threads_dir = "./brenner_data/threads"
operator = "Operator"
anchor_base = "/transcript"

[log]
level = "info"
format = "console"

[api]
port = 8787
rate_limit = 5

[store]
rebuild_workers = 4

[roles.hypothesis_generator]
display_name = "Hypothesis Generator"
agents = ["Codex"]

[roles.test_designer]
display_name = "Test Designer"
agents = ["Opus", "Claude"]

[roles.adversarial_critic]
display_name = "Adversarial Critic"
agents = ["Gemini"]
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration
func Validate(config *Config) error {
	if strings.TrimSpace(config.General.DataDir) == "" {
		return errors.New("general.data_dir is required")
	}
	if strings.TrimSpace(config.General.Operator) == "" {
		return errors.New("general.operator is required")
	}

	if !logLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", config.Log.Level)
	}
	switch strings.ToLower(config.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q must be console or json", config.Log.Format)
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("api.port %d is out of range", config.API.Port)
	}
	if config.API.RateLimit <= 0 {
		return errors.New("api.rate_limit must be positive")
	}
	if config.Store.RebuildWorkers <= 0 {
		return errors.New("store.rebuild_workers must be positive")
	}

	for name, role := range config.Roles {
		if len(role.Agents) == 0 {
			return fmt.Errorf("role %s has no agents", name)
		}
	}

	return nil
}
