package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/generate"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
	"github.com/TobiSchelling/contentforge/internal/research"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Providers    []Provider          `yaml:"providers" validate:"dive"`
	Generation   Generation          `yaml:"generation"`
	Quality      content.Constraints `yaml:"quality"`
	History      History             `yaml:"history"`
	Research     Research            `yaml:"research"`
	Units        []Unit              `yaml:"units" validate:"dive"`
	Orchestrator Orchestrator        `yaml:"orchestrator"`
	Output       Output              `yaml:"output"`
	Server       Server              `yaml:"server"`
	Logging      Logging             `yaml:"logging"`
}

type Provider struct {
	ID                string        `yaml:"id" validate:"required"`
	Kind              string        `yaml:"kind" validate:"required,oneof=openai anthropic ollama"`
	Enabled           *bool         `yaml:"enabled"`
	Priority          int           `yaml:"priority"`
	Model             string        `yaml:"model" validate:"required"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	StructuredOutput  bool          `yaml:"structured_output"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
}

type Generation struct {
	MaxUniqueAttempts   int           `yaml:"max_unique_attempts" validate:"gte=1"`
	MaxContentRetries   int           `yaml:"max_content_retries" validate:"gte=0"`
	MaxTransportRetries int           `yaml:"max_transport_retries" validate:"gte=1"`
	Backoff             time.Duration `yaml:"backoff" validate:"gte=0"`
	Strict              bool          `yaml:"strict"`
}

type History struct {
	Backend         string        `yaml:"backend" validate:"oneof=sqlite json redis"`
	Path            string        `yaml:"path"`
	RedisURL        string        `yaml:"redis_url"`
	Namespace       string        `yaml:"namespace"`
	Capacity        int           `yaml:"capacity" validate:"gte=1"`
	RecentWindow    int           `yaml:"recent_window" validate:"gte=1"`
	TopicReuseLimit int           `yaml:"topic_reuse_limit" validate:"gte=1"`
	PreviewLength   int           `yaml:"preview_length" validate:"gte=1"`
	Lookback        time.Duration `yaml:"lookback" validate:"gte=0"`
	MaxAge          time.Duration `yaml:"max_age" validate:"gte=0"`
}

type Research struct {
	Enabled      bool             `yaml:"enabled"`
	DaysBack     int              `yaml:"days_back" validate:"gte=1"`
	MaxHeadlines int              `yaml:"max_headlines" validate:"gte=1"`
	FetchLead    bool             `yaml:"fetch_lead"`
	Timeout      time.Duration    `yaml:"timeout" validate:"gte=0"`
	Feeds        []research.Feed  `yaml:"feeds" validate:"dive"`
	NewsAPI      research.NewsAPI `yaml:"newsapi"`
}

// Unit is one content unit generated by "contentforge run".
type Unit struct {
	Name    string           `yaml:"name" validate:"required"`
	Topic   string           `yaml:"topic"`
	Style   []string         `yaml:"style"`
	Context map[string]any   `yaml:"context"`
	Quality content.Override `yaml:"quality"`
	Strict  *bool            `yaml:"strict"`
}

type Orchestrator struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
	UnitTimeout time.Duration `yaml:"unit_timeout" validate:"gte=0"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type Logging struct {
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ConfigDir returns the XDG config directory for contentforge.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "contentforge")
}

// DataDir returns the XDG data directory for contentforge.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "contentforge")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/contentforge/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'contentforge init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Generation: Generation{
			MaxUniqueAttempts:   generate.DefaultMaxUniqueAttempts,
			MaxContentRetries:   generate.DefaultMaxContentRetries,
			MaxTransportRetries: generate.DefaultMaxTransportRetries,
			Backoff:             generate.DefaultBackoff,
		},
		Quality: content.DefaultConstraints(),
		History: History{
			Backend:         "sqlite",
			Namespace:       "default",
			Capacity:        history.DefaultCapacity,
			RecentWindow:    history.DefaultRecentWindow,
			TopicReuseLimit: history.DefaultTopicReuseLimit,
			PreviewLength:   history.DefaultPreviewLength,
			Lookback:        history.DefaultLookback,
			MaxAge:          history.DefaultMaxAge,
		},
		Research: Research{
			DaysBack:     3,
			MaxHeadlines: 5,
			Timeout:      15 * time.Second,
			NewsAPI: research.NewsAPI{
				APIKeyEnv: "NEWSAPI_KEY",
			},
		},
		Orchestrator: Orchestrator{
			Concurrency: orchestrator.DefaultConcurrency,
			UnitTimeout: orchestrator.DefaultUnitTimeout,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field bounds and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	seen := map[string]bool{}
	for _, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("config validation failed: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	units := map[string]bool{}
	for _, u := range c.Units {
		if units[u.Name] {
			return fmt.Errorf("config validation failed: duplicate unit %q", u.Name)
		}
		units[u.Name] = true
	}
	if c.Research.NewsAPI.Enabled && strings.TrimSpace(c.Research.NewsAPI.Query) == "" {
		return fmt.Errorf("config validation failed: research.newsapi.query is required when newsapi is enabled")
	}
	if c.History.Backend == "redis" && c.History.RedisURL == "" {
		return fmt.Errorf("config validation failed: history.redis_url is required for the redis backend")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return expandTilde(c.Output.DataDir)
	}
	return DataDir()
}

// DBPath is the SQLite database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "contentforge.db")
}

// HistoryPath is the JSON history document used by the json backend.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return expandTilde(c.History.Path)
	}
	return filepath.Join(c.GetDataDir(), "history.json")
}

// ProviderDescriptors converts the provider section. Providers are enabled
// unless they say otherwise.
func (c *Config) ProviderDescriptors() []llm.Descriptor {
	out := make([]llm.Descriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		enabled := p.Enabled == nil || *p.Enabled
		out = append(out, llm.Descriptor{
			ID:                p.ID,
			Kind:              llm.Kind(strings.ToLower(p.Kind)),
			Enabled:           enabled,
			Priority:          p.Priority,
			Model:             p.Model,
			BaseURL:           p.BaseURL,
			APIKeyEnv:         p.APIKeyEnv,
			Timeout:           p.Timeout,
			MaxTokens:         p.MaxTokens,
			Temperature:       p.Temperature,
			Capabilities:      llm.Capabilities{StructuredOutput: p.StructuredOutput},
			RequestsPerMinute: p.RequestsPerMinute,
		})
	}
	return out
}

// HistoryRules returns the store thresholds.
func (c *Config) HistoryRules() history.Rules {
	return history.Rules{
		Capacity:        c.History.Capacity,
		RecentWindow:    c.History.RecentWindow,
		TopicReuseLimit: c.History.TopicReuseLimit,
		PreviewLength:   c.History.PreviewLength,
		Lookback:        c.History.Lookback,
	}
}

// GenerateOptions returns the controller bounds.
func (c *Config) GenerateOptions() generate.Options {
	return generate.Options{
		MaxUniqueAttempts:   c.Generation.MaxUniqueAttempts,
		MaxContentRetries:   c.Generation.MaxContentRetries,
		MaxTransportRetries: c.Generation.MaxTransportRetries,
		Backoff:             c.Generation.Backoff,
		Strict:              c.Generation.Strict,
		Constraints:         c.Quality,
	}
}

// ResearchOptions returns the researcher settings.
func (c *Config) ResearchOptions() research.Options {
	return research.Options{
		Feeds:        c.Research.Feeds,
		DaysBack:     c.Research.DaysBack,
		MaxHeadlines: c.Research.MaxHeadlines,
		FetchLead:    c.Research.FetchLead,
		Timeout:      c.Research.Timeout,
		NewsAPI:      c.Research.NewsAPI,
	}
}

// OrchestratorOptions returns the fan-out settings.
func (c *Config) OrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		Concurrency: c.Orchestrator.Concurrency,
		UnitTimeout: c.Orchestrator.UnitTimeout,
	}
}

// OrchestratorUnits converts the units section. Per-unit quality values
// override the global ones.
func (c *Config) OrchestratorUnits() []orchestrator.Unit {
	out := make([]orchestrator.Unit, 0, len(c.Units))
	for _, u := range c.Units {
		out = append(out, orchestrator.Unit{
			Name: u.Name,
			Request: content.Request{
				Topic:       u.Topic,
				Unit:        u.Name,
				Context:     u.Context,
				Style:       u.Style,
				Constraints: u.Quality,
				Strict:      u.Strict,
			},
		})
	}
	return out
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
