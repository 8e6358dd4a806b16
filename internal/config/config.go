// Package config loads server settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RichardoC/localchat/internal/catalog"
	"github.com/RichardoC/localchat/internal/gate"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/search"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server          ServerConfig              `yaml:"server"`
	Database        DatabaseConfig            `yaml:"database"`
	Ollama          OllamaConfig              `yaml:"ollama"`
	Search          SearchConfig              `yaml:"search"`
	Device          catalog.DeviceProfile     `yaml:"device"`
	Log             LogConfig                 `yaml:"log"`
	Models          []catalog.ModelDescriptor `yaml:"models"`
	MandatoryModels []string                  `yaml:"mandatory_models"`
	StartupDelay    time.Duration             `yaml:"startup_delay"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

type SearchConfig struct {
	WikipediaURL string        `yaml:"wikipedia_url"`
	GoogleURL    string        `yaml:"google_url"`
	Timeout      time.Duration `yaml:"timeout"`
	// GoogleAPIKey and GoogleCX seed the settings when they have none.
	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleCX     string `yaml:"google_cx"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server:          ServerConfig{Addr: "127.0.0.1:8100"},
		Database:        DatabaseConfig{Path: "localchat.db"},
		Ollama:          OllamaConfig{BaseURL: llm.DefaultOllamaURL},
		Search:          SearchConfig{WikipediaURL: search.DefaultWikipediaURL, GoogleURL: search.DefaultGoogleURL, Timeout: 10 * time.Second},
		Log:             LogConfig{Level: "info"},
		MandatoryModels: []string{"llama3.2:1b"},
		StartupDelay:    gate.DefaultDelay,
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for env, dst := range map[string]*string{
		"LOCALCHAT_ADDR":      &c.Server.Addr,
		"LOCALCHAT_DB":        &c.Database.Path,
		"OLLAMA_HOST":         &c.Ollama.BaseURL,
		"LOCALCHAT_LOG_LEVEL": &c.Log.Level,
		"GOOGLE_API_KEY":      &c.Search.GoogleAPIKey,
		"GOOGLE_CX":           &c.Search.GoogleCX,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("LOCALCHAT_CONSTRAINED"); ok && v != "" {
		constrained, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOCALCHAT_CONSTRAINED %q: %w", v, err)
		}
		c.Device.Constrained = constrained
	}
	// OLLAMA_HOST is often a bare host:port
	if !strings.Contains(c.Ollama.BaseURL, "://") {
		c.Ollama.BaseURL = "http://" + c.Ollama.BaseURL
	}
	return nil
}
