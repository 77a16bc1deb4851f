package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

type Config struct {
	ListenAddr         string
	UpstreamBaseURL    string
	UpstreamAPIKey     string
	APIKeySource       string
	SuggestionModel    string
	ReasoningEffort    string
	MaxOutputTokens    int
	RequestTimeout     time.Duration
	SuggestTimeout     time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	TriggerPhrases     []string
	CORSAllowedOrigins []string
	LogLevel           string
	LogFormat          string
}

type envConfig struct {
	ListenAddr            string   `env:"LISTEN_ADDR" envDefault:":8000"`
	UpstreamBaseURL       string   `env:"UPSTREAM_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	UpstreamAPIKey        string   `env:"UPSTREAM_API_KEY"`
	SecretsFile           string   `env:"SECRETS_FILE" envDefault:".secrets.toml"`
	SuggestionModel       string   `env:"SUGGESTION_MODEL" envDefault:"tngtech/deepseek-r1t2-chimera:free"`
	ReasoningEffort       string   `env:"REASONING_EFFORT" envDefault:"low"`
	MaxOutputTokens       int      `env:"MAX_OUTPUT_TOKENS" envDefault:"1000"`
	RequestTimeoutSeconds int      `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	SuggestTimeoutSeconds int      `env:"SUGGEST_TIMEOUT_SECONDS" envDefault:"25"`
	MaxRetries            int      `env:"UPSTREAM_MAX_RETRIES" envDefault:"1"`
	RetryBackoffMS        int      `env:"UPSTREAM_RETRY_BACKOFF_MS" envDefault:"250"`
	TriggerPhrases        []string `env:"TRIGGER_PHRASES" envSeparator:"," envDefault:"can't remember,forgot the name,what is it called,that thing,um,uh"`
	CORSAllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat             string   `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads configuration from the environment after applying an optional
// dotenv file (ENV_FILE, default .env). Variables already set win over the
// file. When UPSTREAM_API_KEY is unset the key is looked up in SECRETS_FILE.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:         strings.TrimSpace(raw.ListenAddr),
		UpstreamBaseURL:    strings.TrimRight(strings.TrimSpace(raw.UpstreamBaseURL), "/"),
		UpstreamAPIKey:     strings.TrimSpace(raw.UpstreamAPIKey),
		SuggestionModel:    strings.TrimSpace(raw.SuggestionModel),
		ReasoningEffort:    strings.ToLower(strings.TrimSpace(raw.ReasoningEffort)),
		MaxOutputTokens:    raw.MaxOutputTokens,
		RequestTimeout:     time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		SuggestTimeout:     time.Duration(raw.SuggestTimeoutSeconds) * time.Second,
		MaxRetries:         raw.MaxRetries,
		RetryBackoff:       time.Duration(raw.RetryBackoffMS) * time.Millisecond,
		TriggerPhrases:     trimAll(raw.TriggerPhrases),
		CORSAllowedOrigins: trimAll(raw.CORSAllowedOrigins),
		LogLevel:           strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		LogFormat:          strings.ToLower(strings.TrimSpace(raw.LogFormat)),
	}
	if cfg.UpstreamAPIKey != "" {
		cfg.APIKeySource = "env"
	}

	if cfg.UpstreamAPIKey == "" {
		secretsFile := strings.TrimSpace(raw.SecretsFile)
		key, err := LoadAPIKeyFromFile(secretsFile)
		if err != nil {
			return Config{}, err
		}
		if key != "" {
			cfg.UpstreamAPIKey = key
			cfg.APIKeySource = secretsFile
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if c.SuggestionModel == "" {
		return errors.New("SUGGESTION_MODEL must not be empty")
	}
	switch c.ReasoningEffort {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("REASONING_EFFORT must be one of minimal, low, medium, high (got %q)", c.ReasoningEffort)
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.SuggestTimeout <= 0 {
		return errors.New("SUGGEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("UPSTREAM_MAX_RETRIES must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("UPSTREAM_RETRY_BACKOFF_MS must be >= 0")
	}
	if len(c.TriggerPhrases) == 0 {
		return errors.New("TRIGGER_PHRASES must contain at least one phrase")
	}
	if len(c.CORSAllowedOrigins) == 0 {
		return errors.New("CORS_ALLOWED_ORIGINS must not be empty")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json (got %q)", c.LogFormat)
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
