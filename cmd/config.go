package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/export"
)

const (
	providerOpenAI = "openai"
	providerGemini = "gemini"

	backendSQLite = "sqlite"
	backendRedis  = "redis"
)

type Config struct {
	AI         *AIConfig                  `mapstructure:"ai"`
	Categories map[string]*CategoryConfig `mapstructure:"categories"`
	Index      *IndexConfig               `mapstructure:"index"`
	Analysis   *AnalysisConfig            `mapstructure:"analysis"`
	Export     *ExportConfig              `mapstructure:"export"`
	Metrics    *MetricsConfig             `mapstructure:"metrics"`

	ExcludeFile string `mapstructure:"exclude-file"`
	NoExclude   bool   `mapstructure:"no-exclude"`
}

type AIConfig struct {
	Provider string          `mapstructure:"provider"`
	OpenAI   *ProviderConfig `mapstructure:"openai"`
	Gemini   *ProviderConfig `mapstructure:"gemini"`
}

type ProviderConfig struct {
	APIKey          string `mapstructure:"api-key" json:"-"`
	APIKeyFile      string `mapstructure:"api-key-file"`
	BaseURL         string `mapstructure:"base-url"`
	ChatModel       string `mapstructure:"chat-model"`
	RefineModel     string `mapstructure:"refine-model"`
	EmbeddingModel  string `mapstructure:"embedding-model"`
	MaxRetries      int    `mapstructure:"max-retries"`
	MaxTokens       int    `mapstructure:"max-tokens"`
	RefineMaxTokens int    `mapstructure:"refine-max-tokens"`
}

// CategoryConfig points a matching category at its dataset and index. Index is a
// file path for the sqlite backend and an FT index name for redis.
type CategoryConfig struct {
	Dataset string         `mapstructure:"dataset"`
	Index   string         `mapstructure:"index"`
	Columns []string       `mapstructure:"columns"`
	Exclude *ExcludeConfig `mapstructure:"exclude"`
}

// ExcludeConfig drops candidates by the value of a key column. The same column keys
// the entries written to the exclude file.
type ExcludeConfig struct {
	Column string   `mapstructure:"column"`
	Values []string `mapstructure:"values"`
}

type IndexConfig struct {
	Backend string       `mapstructure:"backend"`
	Redis   *RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addrs       []string `mapstructure:"addrs"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password" json:"-"`
	DB          int      `mapstructure:"db"`
	VectorField string   `mapstructure:"vector-field"`
	RowField    string   `mapstructure:"row-field"`
}

type AnalysisConfig struct {
	TopK         int    `mapstructure:"top-k"`
	Concurrency  int    `mapstructure:"concurrency"`
	Background   string `mapstructure:"background"`
	Prompt       string `mapstructure:"prompt"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type ExportConfig struct {
	Path       string `mapstructure:"path"`
	DumpFormat string `mapstructure:"dump-format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ConfigurationError reports a setup problem that prevents the session from starting.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErrorf(key, format string, args ...any) error {
	return &ConfigurationError{Key: key, Err: fmt.Errorf(format, args...)}
}

func setDefaults() {
	viper.SetDefault("ai.provider", providerOpenAI)
	viper.SetDefault("ai.openai.max-retries", 3)
	viper.SetDefault("ai.openai.refine-max-tokens", 1000)
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.refine-max-tokens", 1000)
	viper.SetDefault("index.backend", backendSQLite)
	viper.SetDefault("analysis.top-k", 5)
	viper.SetDefault("analysis.concurrency", 1)
	viper.SetDefault("analysis.max-log-length", 200)
	viper.SetDefault("export.path", "result.xlsx")
	viper.SetDefault("export.dump-format", string(export.FormatJSON))
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if config == nil {
		return nil, configErrorf("", "config is empty")
	}
	return config, config.Validate()
}

// Validate fills omitted sections and checks the settings the session needs to start.
func (c *Config) Validate() error {
	if c.AI == nil {
		c.AI = &AIConfig{}
	}
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		c.AI.Provider = providerOpenAI
	}
	switch c.AI.Provider {
	case providerOpenAI:
		if c.AI.OpenAI == nil {
			c.AI.OpenAI = &ProviderConfig{}
		}
	case providerGemini:
		if c.AI.Gemini == nil {
			c.AI.Gemini = &ProviderConfig{}
		}
	default:
		return configErrorf("ai.provider", "unsupported provider %q", c.AI.Provider)
	}

	if c.Index == nil {
		c.Index = &IndexConfig{}
	}
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	if c.Index.Backend == "" {
		c.Index.Backend = backendSQLite
	}
	switch c.Index.Backend {
	case backendSQLite:
	case backendRedis:
		if c.Index.Redis == nil || len(c.Index.Redis.Addrs) == 0 {
			return configErrorf("index.redis.addrs", "at least one address is required for the redis backend")
		}
	default:
		return configErrorf("index.backend", "unsupported backend %q", c.Index.Backend)
	}

	if len(c.Categories) == 0 {
		return configErrorf("categories", "at least one matching category must be configured")
	}
	for key, cat := range c.Categories {
		if _, err := categoryByKey(key); err != nil {
			return &ConfigurationError{Key: "categories." + key, Err: err}
		}
		if cat == nil || strings.TrimSpace(cat.Dataset) == "" {
			return configErrorf("categories."+key+".dataset", "dataset path is required")
		}
		if strings.TrimSpace(cat.Index) == "" {
			return configErrorf("categories."+key+".index", "index is required")
		}
		if cat.Exclude == nil {
			cat.Exclude = &ExcludeConfig{}
		}
	}

	if c.Analysis == nil {
		c.Analysis = &AnalysisConfig{}
	}
	if c.Analysis.TopK < 1 {
		return configErrorf("analysis.top-k", "must be at least 1, got %d", c.Analysis.TopK)
	}
	if c.Analysis.Concurrency < 1 {
		c.Analysis.Concurrency = 1
	}

	if c.Export == nil {
		c.Export = &ExportConfig{}
	}
	if _, err := export.ParseFormat(c.Export.DumpFormat); err != nil {
		return &ConfigurationError{Key: "export.dump-format", Err: err}
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	return nil
}

// provider returns the settings of the selected provider.
func (c *AIConfig) provider() *ProviderConfig {
	if c.Provider == providerGemini {
		return c.Gemini
	}
	return c.OpenAI
}

func categoryByKey(key string) (catalog.Category, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, c := range catalog.Categories() {
		if c.Key() == key {
			return c, nil
		}
	}
	keys := make([]string, 0, 3)
	for _, c := range catalog.Categories() {
		keys = append(keys, c.Key())
	}
	return "", fmt.Errorf("unknown category %q, expected one of %s", key, strings.Join(keys, ", "))
}

// configuredCategories lists configured categories in menu order.
func (c *Config) configuredCategories() []catalog.Category {
	var out []catalog.Category
	for _, cat := range catalog.Categories() {
		if _, ok := c.Categories[cat.Key()]; ok {
			out = append(out, cat)
		}
	}
	return out
}

func (c *Config) category(cat catalog.Category) (*CategoryConfig, bool) {
	cfg, ok := c.Categories[cat.Key()]
	return cfg, ok && cfg != nil
}

func isConfigured(c *Config, cat catalog.Category) bool {
	return slices.Contains(c.configuredCategories(), cat)
}
