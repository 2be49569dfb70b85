package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// Cache backends.
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Remote sources.
	HTTPTimeout        time.Duration
	SCBBaseURL         string
	SCBLanguage        string
	DatasetURLs        map[domain.Taxonomy]string
	CSVSeparator       rune
	TranslationSources map[domain.Taxonomy]string
	Taxonomies         []domain.Taxonomy

	// Result cache.
	CacheEnabled bool
	CacheBackend string
	CacheDir     string
	RedisAddr    string
	RedisDB      int

	// Optional Kafka sink.
	KafkaBrokers   []string
	KafkaSinkTopic string
	KafkaEnabled   bool

	// How often the server recomputes; zero disables periodic refresh.
	RefreshInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	httpTimeout, err := parseDuration("HTTP_TIMEOUT", "60s", false)
	if err != nil {
		return nil, err
	}
	refresh, err := parseDuration("REFRESH_INTERVAL", "24h", true)
	if err != nil {
		return nil, err
	}
	sep, err := parseSeparator(sharedcfg.EnvOrDefault("DAIOE_CSV_SEP", ","))
	if err != nil {
		return nil, err
	}
	taxonomies, err := domain.ParseTaxonomies(os.Getenv("DAIOE_TAXONOMIES"))
	if err != nil {
		return nil, fmt.Errorf("invalid DAIOE_TAXONOMIES: %w", err)
	}
	cacheEnabled, err := parseBool("CACHE_ENABLED", true)
	if err != nil {
		return nil, err
	}
	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, fmt.Errorf("%w: invalid REDIS_DB", domain.ErrConfig)
	}

	var brokers []string
	if s := os.Getenv("KAFKA_BROKERS"); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", len(brokers) > 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		HTTPTimeout: httpTimeout,
		SCBBaseURL:  sharedcfg.EnvOrDefault("SCB_BASE_URL", "https://api.scb.se/OV0104/v1/doris"),
		SCBLanguage: sharedcfg.EnvOrDefault("SCB_LANGUAGE", "en"),
		DatasetURLs: map[domain.Taxonomy]string{
			domain.SSYK2012: os.Getenv("DAIOE_SSYK2012_URL"),
			domain.SSYK96:   os.Getenv("DAIOE_SSYK96_URL"),
		},
		CSVSeparator: sep,
		TranslationSources: map[domain.Taxonomy]string{
			domain.SSYK2012: os.Getenv("DAIOE_TRANSLATION_SSYK2012"),
			domain.SSYK96:   os.Getenv("DAIOE_TRANSLATION_SSYK96"),
		},
		Taxonomies: taxonomies,

		CacheEnabled: cacheEnabled,
		CacheBackend: sharedcfg.EnvOrDefault("CACHE_BACKEND", CacheBackendFile),
		CacheDir:     os.Getenv("DATA_CACHE_DIR"),
		RedisAddr:    sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisDB:      redisDB,

		KafkaBrokers:   brokers,
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "daioe-aggregates"),
		KafkaEnabled:   kafkaEnabled,

		RefreshInterval: refresh,
	}

	if cfg.CacheBackend != CacheBackendFile && cfg.CacheBackend != CacheBackendRedis {
		return nil, fmt.Errorf("%w: CACHE_BACKEND must be %q or %q", domain.ErrConfig, CacheBackendFile, CacheBackendRedis)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("%w: KAFKA_ENABLED is true but KAFKA_BROKERS is not set", domain.ErrConfig)
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, fmt.Errorf("%w: KAFKA_SINK_TOPIC is required", domain.ErrConfig)
	}

	return cfg, nil
}

// CacheDirCandidates lists the directories tried for the file cache, in order.
func (c *Config) CacheDirCandidates() []string {
	return []string{c.CacheDir, "data"}
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrConfig, key)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s", domain.ErrConfig, key)
	}
	return b, nil
}

// parseSeparator accepts a single character, or the escape \t for tab.
func parseSeparator(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: DAIOE_CSV_SEP must be a single character", domain.ErrConfig)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("%w: DAIOE_CSV_SEP %q is not a valid separator", domain.ErrConfig, s)
	}
	return r, nil
}
