package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Providers ProviderConfig
	Governor  GovernorConfig
	Privacy   PrivacyConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MinConns        int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	Secret string
	Issuer string
}

// ProviderKey хранит ключ одного внешнего поставщика моделей.
type ProviderKey struct {
	Name   string
	APIKey string
}

type ProviderConfig struct {
	DefaultChatProvider  string
	DefaultEmbedProvider string
	Keys                 map[string]string
	ChatTimeout          time.Duration
	EmbedTimeout         time.Duration
	ChatRetries          int
	EmbedRetries         int
	ChatInitialDelay     time.Duration
	EmbedInitialDelay    time.Duration
	BackoffFactor        float64
	EmbedDimensions      int
}

type GovernorConfig struct {
	ChatPerMinute        int
	InsightsPerMinute    int
	SimulatePerMinute    int
	UploadCSVPerMinute   int
	PreferencesPerMinute int
	Burst                int
}

type PrivacyConfig struct {
	LeaderboardSize int
	AliasEmojiPool  []string
}

// Имена переменных окружения со строкой подключения, в порядке приоритета.
var databaseURLEnvNames = []string{"DATABASE_URL", "POSTGRES_URL", "PG_CONNECTION_STRING"}

var defaultAliasEmojiPool = []string{"🦊", "🐼", "🦉", "🐢", "🐙", "🦄", "🐝", "🐧", "🦋", "🐳"}

// Load загружает конфигурацию приложения из окружения и .env.
func Load() (Config, error) {
	cfg := Config{}

	if err := loadEnv(); err != nil {
		return cfg, err
	}

	cfg.Env = getEnv("APP_ENV", "local")

	serverPort, err := parseIntEnv("PORT", 8080)
	if err != nil {
		return cfg, err
	}

	readTimeout, err := parseDurationEnv("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return cfg, err
	}

	writeTimeout, err := parseDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return cfg, err
	}

	idleTimeout, err := parseDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return cfg, err
	}

	requestTimeout, err := parseDurationEnv("REQUEST_TIMEOUT", 20*time.Second)
	if err != nil {
		return cfg, err
	}

	cfg.Server = ServerConfig{
		Host:           getEnv("SERVER_HOST", "0.0.0.0"),
		Port:           serverPort,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		RequestTimeout: requestTimeout,
	}

	maxOpenConns, err := parseIntEnv("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return cfg, err
	}

	minConns, err := parseIntEnv("DB_MIN_CONNS", 2)
	if err != nil {
		return cfg, err
	}

	connMaxIdleTime, err := parseDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return cfg, err
	}

	connMaxLifetime, err := parseDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return cfg, err
	}

	cfg.Database = DatabaseConfig{
		URL:             databaseURL(),
		MaxOpenConns:    maxOpenConns,
		MinConns:        minConns,
		ConnMaxIdleTime: connMaxIdleTime,
		ConnMaxLifetime: connMaxLifetime,
	}

	cfg.Auth = AuthConfig{
		Secret: getEnv("AUTH_SECRET", ""),
		Issuer: getEnv("AUTH_ISSUER", "dompet-orchestrator"),
	}

	chatTimeout, err := parseDurationEnv("CHAT_TIMEOUT", 20*time.Second)
	if err != nil {
		return cfg, err
	}

	embedTimeout, err := parseDurationEnv("EMBED_TIMEOUT", 15*time.Second)
	if err != nil {
		return cfg, err
	}

	chatRetries, err := parseIntEnv("CHAT_RETRIES", 3)
	if err != nil {
		return cfg, err
	}

	embedRetries, err := parseIntEnv("EMBED_RETRIES", 3)
	if err != nil {
		return cfg, err
	}

	embedDimensions, err := parseIntEnv("EMBED_DIMENSIONS", 0)
	if err != nil {
		return cfg, err
	}

	embedProvider := strings.ToLower(getEnv("DEFAULT_EMBEDDING_PROVIDER", "internal"))
	if embedDimensions == 0 {
		embedDimensions = 1536
		if embedProvider == "internal" {
			embedDimensions = 7
		}
	}

	cfg.Providers = ProviderConfig{
		DefaultChatProvider:  strings.ToLower(getEnv("DEFAULT_MODEL_PROVIDER", "openai")),
		DefaultEmbedProvider: embedProvider,
		Keys: map[string]string{
			"openai":    getEnv("OPENAI_API_KEY", ""),
			"groq":      getEnv("GROQ_API_KEY", ""),
			"anthropic": getEnv("ANTHROPIC_API_KEY", ""),
			"gemini":    getEnv("GEMINI_API_KEY", ""),
		},
		ChatTimeout:       chatTimeout,
		EmbedTimeout:      embedTimeout,
		ChatRetries:       chatRetries,
		EmbedRetries:      embedRetries,
		ChatInitialDelay:  250 * time.Millisecond,
		EmbedInitialDelay: 200 * time.Millisecond,
		BackoffFactor:     2,
		EmbedDimensions:   embedDimensions,
	}

	chatPerMinute, err := parseIntEnv("RATE_CHAT_PER_MINUTE", 10)
	if err != nil {
		return cfg, err
	}

	insightsPerMinute, err := parseIntEnv("RATE_INSIGHTS_PER_MINUTE", 6)
	if err != nil {
		return cfg, err
	}

	simulatePerMinute, err := parseIntEnv("RATE_SIMULATE_PER_MINUTE", 5)
	if err != nil {
		return cfg, err
	}

	uploadPerMinute, err := parseIntEnv("RATE_UPLOAD_CSV_PER_MINUTE", 3)
	if err != nil {
		return cfg, err
	}

	preferencesPerMinute, err := parseIntEnv("RATE_PREFERENCES_PER_MINUTE", 10)
	if err != nil {
		return cfg, err
	}

	burst, err := parseIntEnv("RATE_BURST", 3)
	if err != nil {
		return cfg, err
	}

	cfg.Governor = GovernorConfig{
		ChatPerMinute:        chatPerMinute,
		InsightsPerMinute:    insightsPerMinute,
		SimulatePerMinute:    simulatePerMinute,
		UploadCSVPerMinute:   uploadPerMinute,
		PreferencesPerMinute: preferencesPerMinute,
		Burst:                burst,
	}

	leaderboardSize, err := parseIntEnv("LEADERBOARD_SIZE", 10)
	if err != nil {
		return cfg, err
	}

	cfg.Privacy = PrivacyConfig{
		LeaderboardSize: leaderboardSize,
		AliasEmojiPool:  parseCSVEnvOr("ALIAS_EMOJI_POOL", defaultAliasEmojiPool),
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func databaseURL() string {
	for _, name := range databaseURLEnvNames {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

func (c Config) validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("PORT must be greater than 0")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("one of %s is required", strings.Join(databaseURLEnvNames, ", "))
	}

	if c.Database.MinConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_OPEN_CONNS")
	}

	if c.Providers.ChatRetries <= 0 {
		return fmt.Errorf("CHAT_RETRIES must be greater than 0")
	}

	if c.Providers.EmbedRetries <= 0 {
		return fmt.Errorf("EMBED_RETRIES must be greater than 0")
	}

	switch c.Providers.DefaultEmbedProvider {
	case "internal":
		if c.Providers.EmbedDimensions != 7 {
			return fmt.Errorf("EMBED_DIMENSIONS must be 7 for the internal embedder")
		}
	default:
		if c.Providers.EmbedDimensions <= 0 {
			return fmt.Errorf("EMBED_DIMENSIONS must be greater than 0")
		}
	}

	if len(c.Privacy.AliasEmojiPool) == 0 {
		return fmt.Errorf("ALIAS_EMOJI_POOL must not be empty")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}

	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}

	return parsed, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return parsed, nil
}

func parseCSVEnvOr(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func loadEnv() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}
