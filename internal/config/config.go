// Package config loads runtime settings from .env files, the environment,
// an optional config file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read through viper.
const EnvPrefix = "NEONHUB"

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"

	defaultOpenAIModel = "gpt-4o-mini"
)

// Keys shared by viper and the cobra flags bound to it.
const (
	KeyProvider         = "provider"
	KeyModel            = "model"
	KeyAPIKey           = "api-key"
	KeyOpenAIBaseURL    = "openai-base-url"
	KeyParamPrefix      = "param-prefix"
	KeyParamCacheTTL    = "param-cache-ttl"
	KeyStore            = "store"
	KeyMemoryIdleTTL    = "memory-idle-ttl"
	KeySQLitePath       = "sqlite-path"
	KeyStateTable       = "state-table"
	KeyListenAddr       = "listen-addr"
	KeyMaxContextItems  = "max-context-items"
	KeyMaxMessageLength = "max-message-length"
	KeyTemperature      = "temperature"
	KeyMaxOutputTokens  = "max-output-tokens"
	KeyRateLimit        = "rate-limit"
	KeyRateBurst        = "rate-burst"
	KeyHighlightStyle   = "highlight-style"
	KeyLogLevel         = "log-level"
	KeyLogFormat        = "log-format"
)

type Config struct {
	Provider      string
	Model         string
	APIKey        string
	OpenAIBaseURL string

	// ParamPrefix enables SSM Parameter Store for the API token, system
	// prompt and model.
	ParamPrefix   string
	ParamCacheTTL time.Duration

	Store         string
	SQLitePath    string
	StateTable    string
	// MemoryIdleTTL drops in-memory sessions nobody touched for that long;
	// zero keeps them until restart.
	MemoryIdleTTL time.Duration

	ListenAddr       string
	MaxContextItems  int
	MaxMessageLength int
	Temperature      float64
	MaxOutputTokens  int

	// RateLimit is the number of sends per second allowed per client IP;
	// zero disables limiting.
	RateLimit      float64
	RateBurst      int
	HighlightStyle string

	LogLevel  string
	LogFormat string
}

// SetDefaults registers the default value of every key. Keys that already
// hold a value, such as a default set by the caller, are left alone.
func SetDefaults(v *viper.Viper) {
	defaults := map[string]any{
		KeyProvider:         ProviderGemini,
		KeyParamCacheTTL:    5 * time.Minute,
		KeyStore:            StoreMemory,
		KeyMemoryIdleTTL:    24 * time.Hour,
		KeySQLitePath:       "data/neonhub.db",
		KeyListenAddr:       ":8080",
		KeyMaxContextItems:  20,
		KeyMaxMessageLength: 8000,
		KeyTemperature:      0.7,
		KeyMaxOutputTokens:  8192,
		KeyRateLimit:        0.5,
		KeyRateBurst:        5,
		KeyHighlightStyle:   "monokai",
		KeyLogLevel:         "info",
		KeyLogFormat:        "text",
	}
	for key, value := range defaults {
		if !v.IsSet(key) {
			v.SetDefault(key, value)
		}
	}
}

// LambdaDefaults switches the defaults to the Lambda deployment: sessions
// in DynamoDB and JSON logs for CloudWatch.
func LambdaDefaults(v *viper.Viper) {
	v.SetDefault(KeyStore, StoreDynamoDB)
	v.SetDefault(KeyLogFormat, "json")
}

// LoadDotEnv loads the given .env files (".env" when none are given) into the
// process environment. Missing files are ignored; variables that are already
// set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from v. Flags must already be bound to v.
// configFile, when set, must exist.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by the Lambda deployment.
	legacy := map[string]string{
		KeyStateTable:       "STATE_TABLE",
		KeyParamPrefix:      "PARAM_PREFIX",
		KeyMaxContextItems:  "MAX_CONTEXT_ITEMS",
		KeyMaxMessageLength: "MAX_MESSAGE_LENGTH",
	}
	for key, env := range legacy {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Provider:         strings.ToLower(strings.TrimSpace(v.GetString(KeyProvider))),
		Model:            strings.TrimSpace(v.GetString(KeyModel)),
		APIKey:           strings.TrimSpace(v.GetString(KeyAPIKey)),
		OpenAIBaseURL:    strings.TrimSpace(v.GetString(KeyOpenAIBaseURL)),
		ParamPrefix:      strings.TrimSpace(v.GetString(KeyParamPrefix)),
		ParamCacheTTL:    v.GetDuration(KeyParamCacheTTL),
		Store:            strings.ToLower(strings.TrimSpace(v.GetString(KeyStore))),
		SQLitePath:       strings.TrimSpace(v.GetString(KeySQLitePath)),
		StateTable:       strings.TrimSpace(v.GetString(KeyStateTable)),
		MemoryIdleTTL:    v.GetDuration(KeyMemoryIdleTTL),
		ListenAddr:       strings.TrimSpace(v.GetString(KeyListenAddr)),
		MaxContextItems:  v.GetInt(KeyMaxContextItems),
		MaxMessageLength: v.GetInt(KeyMaxMessageLength),
		Temperature:      v.GetFloat64(KeyTemperature),
		MaxOutputTokens:  v.GetInt(KeyMaxOutputTokens),
		RateLimit:        v.GetFloat64(KeyRateLimit),
		RateBurst:        v.GetInt(KeyRateBurst),
		HighlightStyle:   strings.TrimSpace(v.GetString(KeyHighlightStyle)),
		LogLevel:         strings.TrimSpace(v.GetString(KeyLogLevel)),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
	}
	if cfg.APIKey == "" {
		cfg.APIKey = fallbackAPIKey(cfg.Provider)
	}
	if cfg.Model == "" && cfg.Provider == ProviderOpenAI {
		cfg.Model = defaultOpenAIModel
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.APIKey == "" && c.ParamPrefix == "" {
		return errors.New("config: either an API key or a parameter prefix is required")
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: sqlite-path is required for the sqlite store")
		}
	case StoreDynamoDB:
		if c.StateTable == "" {
			return errors.New("config: state-table is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}

	if c.MemoryIdleTTL < 0 {
		return errors.New("config: memory-idle-ttl must not be negative")
	}
	if c.MaxContextItems < 0 {
		return errors.New("config: max-context-items must not be negative")
	}
	if c.MaxMessageLength < 0 {
		return errors.New("config: max-message-length must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		return errors.New("config: rate-burst must be positive when rate-limit is set")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func NewLogger(c Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q: %w", s, err)
	}
	return level, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func fallbackAPIKey(provider string) string {
	names := []string{"API_KEY"}
	switch provider {
	case ProviderGemini:
		names = append(names, "GEMINI_API_KEY")
	case ProviderOpenAI:
		names = append(names, "OPENAI_API_KEY")
	}
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
