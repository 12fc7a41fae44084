package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds configuration for the OpenAI-compatible chat client.
type OpenAIConfig struct {
	BaseURL           string  `yaml:"base_url" validate:"required,url"`
	APIKeyEnv         string  `yaml:"api_key_env" validate:"required"`
	Model             string  `yaml:"model" validate:"required"`
	Azure             bool    `yaml:"azure"`
	APIVersion        string  `yaml:"api_version"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" validate:"gte=0,lte=10"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// LocalConfig configures the offline similarity backend.
type LocalConfig struct {
	Seed int64 `yaml:"seed"`
}

// BreakerConfig configures the circuit breaker around the model client.
type BreakerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MinRequests     uint32  `yaml:"min_requests"`
	FailureRatio    float64 `yaml:"failure_ratio" validate:"gte=0,lte=1"`
	OpenTimeoutSecs int     `yaml:"open_timeout_secs" validate:"gte=0"`
}

// ModelConfig selects and configures the language model backend.
type ModelConfig struct {
	Type    string        `yaml:"type" validate:"oneof=openai local"`
	OpenAI  *OpenAIConfig `yaml:"openai,omitempty"`
	Local   LocalConfig   `yaml:"local"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// CSVConfig describes the attendee export layout.
type CSVConfig struct {
	Path        string   `yaml:"path"`
	SkipRows    int      `yaml:"skip_rows" validate:"gte=0"`
	NameColumns []string `yaml:"name_columns" validate:"min=1"`
	LinkColumn  string   `yaml:"link_column"`
}

// CorpusConfig configures corpus loading and eligibility.
type CorpusConfig struct {
	MinProfileLength int       `yaml:"min_profile_length" validate:"gte=0"`
	CSV              CSVConfig `yaml:"csv"`
}

// MatcherConfig configures fuzzy name lookup.
type MatcherConfig struct {
	MinSimilarity float64 `yaml:"min_similarity" validate:"gt=0,lte=1"`
	Limit         int     `yaml:"limit" validate:"gt=0"`
}

// SamplingConfig configures the parallel generation calls.
type SamplingConfig struct {
	Temperatures    []float64 `yaml:"temperatures" validate:"min=1,dive,gte=0,lte=2"`
	CallTimeoutSecs int       `yaml:"call_timeout_secs" validate:"gt=0"`
	MarginSecs      int       `yaml:"margin_secs" validate:"gte=0"`
	Concurrency     int       `yaml:"concurrency" validate:"gte=0"`
}

// PrescreenConfig configures batch scoring ahead of the ranking prompt.
// It runs only when a request has more than MinCandidates candidates.
type PrescreenConfig struct {
	Enabled       bool `yaml:"enabled"`
	MinCandidates int  `yaml:"min_candidates" validate:"gte=0"`
	BatchSize     int  `yaml:"batch_size" validate:"gte=0"`
	MinScore      int  `yaml:"min_score" validate:"gte=0,lte=10"`
	Concurrency   int  `yaml:"concurrency" validate:"gte=0"`
	// MaxRetries of -1 disables retries.
	MaxRetries  int `yaml:"max_retries" validate:"gte=-1,lte=10"`
	BackoffSecs int `yaml:"backoff_secs" validate:"gte=0"`
}

// ConsolidationConfig configures the merge of sampled lists.
type ConsolidationConfig struct {
	TopK           int     `yaml:"top_k" validate:"gt=0"`
	DedupThreshold float64 `yaml:"dedup_threshold" validate:"gt=0,lte=1"`
	NameThreshold  float64 `yaml:"name_threshold" validate:"gt=0,lte=1"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Model         ModelConfig         `yaml:"model"`
	Corpus        CorpusConfig        `yaml:"corpus"`
	Matcher       MatcherConfig       `yaml:"matcher"`
	Sampling      SamplingConfig      `yaml:"sampling"`
	Prescreen     PrescreenConfig     `yaml:"prescreen"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CallTimeout is the per-call generation timeout.
func (c *AppConfig) CallTimeout() time.Duration {
	return time.Duration(c.Sampling.CallTimeoutSecs) * time.Second
}

// RequestTimeout is the aggregate timeout of the sampling stage of one
// Recommend call. With a concurrency cap the calls run in waves.
func (c *AppConfig) RequestTimeout() time.Duration {
	waves := 1
	if n, limit := len(c.Sampling.Temperatures), c.Sampling.Concurrency; limit > 0 && n > limit {
		waves = (n + limit - 1) / limit
	}
	return time.Duration(waves)*c.CallTimeout() + time.Duration(c.Sampling.MarginSecs)*time.Second
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/meetmatch/config.yaml.
// If neither exists, it writes defaults to ~/.config/meetmatch/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks struct constraints after defaults are applied.
func Validate(cfg *AppConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Model.Type == "openai" && cfg.Model.OpenAI == nil {
		return errors.New("config: model.openai section missing")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "meetmatch", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Model: ModelConfig{
			Type:    "local",
			Breaker: BreakerConfig{Enabled: true, MinRequests: 6, FailureRatio: 0.6, OpenTimeoutSecs: 60},
		},
		Corpus: CorpusConfig{
			MinProfileLength: 300,
			CSV: CSVConfig{
				SkipRows:    4,
				NameColumns: []string{"First Name", "Last Name"},
				LinkColumn:  "Swapcard",
			},
		},
		Matcher:  MatcherConfig{MinSimilarity: 0.6, Limit: 5},
		Sampling: SamplingConfig{Temperatures: []float64{0.2, 0.7, 1.1}, CallTimeoutSecs: 90, MarginSecs: 5},
		Prescreen: PrescreenConfig{
			Enabled:       true,
			MinCandidates: 100,
			BatchSize:     50,
			MinScore:      8,
			MaxRetries:    2,
			BackoffSecs:   5,
		},
		Consolidation: ConsolidationConfig{TopK: 10, DedupThreshold: 0.8, NameThreshold: 0.85},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Model.Type == "" {
		cfg.Model.Type = def.Model.Type
	}
	if cfg.Model.Type == "openai" && cfg.Model.OpenAI != nil {
		o := cfg.Model.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.Azure && o.APIVersion == "" {
			o.APIVersion = "2024-12-01-preview"
		}
		if o.MaxTokens == 0 {
			o.MaxTokens = 4096
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}
	if cfg.Model.Breaker.MinRequests == 0 {
		cfg.Model.Breaker.MinRequests = def.Model.Breaker.MinRequests
	}
	if cfg.Model.Breaker.FailureRatio == 0 {
		cfg.Model.Breaker.FailureRatio = def.Model.Breaker.FailureRatio
	}
	if cfg.Model.Breaker.OpenTimeoutSecs == 0 {
		cfg.Model.Breaker.OpenTimeoutSecs = def.Model.Breaker.OpenTimeoutSecs
	}
	if len(cfg.Corpus.CSV.NameColumns) == 0 {
		cfg.Corpus.CSV.NameColumns = def.Corpus.CSV.NameColumns
	}
	if cfg.Matcher.MinSimilarity == 0 {
		cfg.Matcher.MinSimilarity = def.Matcher.MinSimilarity
	}
	if cfg.Matcher.Limit == 0 {
		cfg.Matcher.Limit = def.Matcher.Limit
	}
	if len(cfg.Sampling.Temperatures) == 0 {
		cfg.Sampling.Temperatures = def.Sampling.Temperatures
	}
	if cfg.Sampling.CallTimeoutSecs == 0 {
		cfg.Sampling.CallTimeoutSecs = def.Sampling.CallTimeoutSecs
	}
	if cfg.Prescreen.BatchSize == 0 {
		cfg.Prescreen.BatchSize = def.Prescreen.BatchSize
	}
	if cfg.Prescreen.MinScore == 0 {
		cfg.Prescreen.MinScore = def.Prescreen.MinScore
	}
	if cfg.Consolidation.TopK == 0 {
		cfg.Consolidation.TopK = def.Consolidation.TopK
	}
	if cfg.Consolidation.DedupThreshold == 0 {
		cfg.Consolidation.DedupThreshold = def.Consolidation.DedupThreshold
	}
	if cfg.Consolidation.NameThreshold == 0 {
		cfg.Consolidation.NameThreshold = def.Consolidation.NameThreshold
	}
}
