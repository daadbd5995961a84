package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/dolchat/internal/tools"
)

type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	UtilityModel string        `mapstructure:"utility_model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type DOLConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	MaxTurns     int      `mapstructure:"max_turns"`
	TopicGuard   bool     `mapstructure:"topic_guard"`
	Tools        []string `mapstructure:"tools"`
	SystemPrompt string   `mapstructure:"system_prompt"`
	Profile      string   `mapstructure:"profile"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	FrontendURL     string `mapstructure:"frontend_url"`
	MaxMessageChars int    `mapstructure:"max_message_chars"`
	MaxHistory      int    `mapstructure:"max_history"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type ToolsConfig struct {
	Servers map[string]tools.ServerConfig `mapstructure:"servers"`
}

type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	DOL     DOLConfig     `mapstructure:"dol"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Server  ServerConfig  `mapstructure:"server"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Storage StorageConfig `mapstructure:"storage"`
	Tools   ToolsConfig   `mapstructure:"tools"`
}

// Environment variables that override a single key, on top of the
// DOLCHAT_<SECTION>_<KEY> mapping.
var envAliases = map[string]string{
	"llm.api_key":         "ANTHROPIC_API_KEY",
	"dol.api_key":         "DOL_API_KEY",
	"server.frontend_url": "FRONTEND_URL",
	"server.port":         "PORT",
}

// Load reads the config file at path, or dolchat.yaml from the working
// directory or $HOME/.dolchat when path is empty. A missing file is not an
// error; every key has a default or an environment override.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dolchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dolchat")
	}

	setDefaults(v)

	v.SetEnvPrefix("DOLCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "DOLCHAT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.DOL.APIKey = expandEnv(cfg.DOL.APIKey)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.anthropic.com/v1/")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.utility_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("dol.base_url", "https://apiprod.dol.gov/v4")
	v.SetDefault("dol.api_key", "")
	v.SetDefault("dol.min_interval", 300*time.Millisecond)
	v.SetDefault("dol.timeout", 30*time.Second)

	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.topic_guard", false)
	v.SetDefault("agent.tools", []string{"query_data", "get_metadata"})
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.profile", "")

	v.SetDefault("catalog.path", "")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("server.max_message_chars", 2000)
	v.SetDefault("server.max_history", 20)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".dolchat", "dolchat.db"))
}

// expandEnv resolves a whole-value ${VAR} reference.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is not set (ANTHROPIC_API_KEY)")
	}
	if c.LLM.Model == "" {
		problems = append(problems, "llm.model is empty")
	}
	if c.DOL.BaseURL == "" {
		problems = append(problems, "dol.base_url is empty")
	}
	if c.Agent.MaxTurns < 1 {
		problems = append(problems, "agent.max_turns must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.MaxMessageChars < 1 {
		problems = append(problems, "server.max_message_chars must be at least 1")
	}
	if c.Server.MaxHistory < 0 {
		problems = append(problems, "server.max_history must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
