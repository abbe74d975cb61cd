// Package config loads the autoforge configuration from autoforge.yaml,
// environment variables under the AUTOFORGE_ prefix, and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully merged run configuration.
type Config struct {
	// Generator selects and authenticates the language model backend.
	Generator GeneratorConfig

	// MaxAttempts bounds the per-task retry loop.
	MaxAttempts int

	// CommandTimeout bounds each subprocess (venv setup, install, tests).
	CommandTimeout time.Duration

	// WorkspaceRoot is where per-run project directories are created.
	WorkspaceRoot string

	// PromptDir holds the prompt template files.
	PromptDir string

	// Verbose lowers the console log level to debug.
	Verbose bool

	// PythonBin creates the run's virtual environment.
	PythonBin string
}

// GeneratorConfig names a model provider and its credentials.
type GeneratorConfig struct {
	Provider   string
	Model      string
	APIKey     string
	MaxRetries int
}

func defaults() Config {
	return Config{
		Generator: GeneratorConfig{
			Provider:   "googleai",
			Model:      "gemini-2.5-flash",
			MaxRetries: 5,
		},
		MaxAttempts:    3,
		CommandTimeout: 300 * time.Second,
		WorkspaceRoot:  "./workspace",
		PromptDir:      "./prompts",
		PythonBin:      "python3",
	}
}

// Load reads autoforge.yaml from dir, merges environment overrides, and
// returns the result. A missing config file yields the defaults.
func Load(dir string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("autoforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("AUTOFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("generator.provider", cfg.Generator.Provider)
	v.SetDefault("generator.model", cfg.Generator.Model)
	v.SetDefault("generator.api_key", cfg.Generator.APIKey)
	v.SetDefault("generator.max_retries", cfg.Generator.MaxRetries)
	v.SetDefault("max_attempts", cfg.MaxAttempts)
	v.SetDefault("command_timeout_seconds", int(cfg.CommandTimeout.Seconds()))
	v.SetDefault("workspace_root", cfg.WorkspaceRoot)
	v.SetDefault("prompt_dir", cfg.PromptDir)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("python_bin", cfg.PythonBin)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read autoforge.yaml: %w", err)
		}
	}

	cfg.Generator.Provider = v.GetString("generator.provider")
	cfg.Generator.Model = v.GetString("generator.model")
	cfg.Generator.APIKey = v.GetString("generator.api_key")
	cfg.Generator.MaxRetries = v.GetInt("generator.max_retries")
	cfg.MaxAttempts = v.GetInt("max_attempts")
	cfg.CommandTimeout = time.Duration(v.GetInt("command_timeout_seconds")) * time.Second
	cfg.WorkspaceRoot = v.GetString("workspace_root")
	cfg.PromptDir = v.GetString("prompt_dir")
	cfg.Verbose = v.GetBool("verbose")
	cfg.PythonBin = v.GetString("python_bin")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Generator.Provider {
	case "openai", "googleai", "gemini":
	default:
		return fmt.Errorf("config: unknown generator provider %q", c.Generator.Provider)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("config: command_timeout_seconds must be positive")
	}
	return nil
}
