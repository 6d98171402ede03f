package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Clustering and event lifecycle.
	ClusterRadiusMeters float64
	ClusterWindow       time.Duration
	MergeRadiusMeters   float64
	CoolAfter           time.Duration
	ExpireAfter         time.Duration
	ClockSkew           time.Duration

	// Scoring.
	RecencyHalfLife time.Duration
	WeightSatellite float64
	WeightReports   float64
	WeightDiversity float64

	PredictionHorizon time.Duration
	Workers           int
	CycleSchedule     string

	// Open-Meteo weather lookups.
	WeatherEnabled   bool
	WeatherBaseURL   string
	WeatherTimeout   time.Duration
	WeatherCacheSize int

	// ArchivePath is the pebble directory for expired events. Empty keeps
	// them in memory.
	ArchivePath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-fire-observations"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "fire-events"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "wildfire-fusion"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		CycleSchedule:      sharedcfg.EnvOrDefault("CYCLE_SCHEDULE", "@every 5m"),
		WeatherBaseURL:     sharedcfg.EnvOrDefault("WEATHER_BASE_URL", "https://api.open-meteo.com"),
		ArchivePath:        os.Getenv("ARCHIVE_PATH"),
	}

	p := parser{}
	clusterKm := p.positiveFloat("CLUSTER_RADIUS_KM", 2)
	mergeKm := p.positiveFloat("MERGE_RADIUS_KM", 4)
	cfg.ClusterRadiusMeters = clusterKm * 1000
	cfg.MergeRadiusMeters = mergeKm * 1000
	cfg.ClusterWindow = p.positiveDuration("CLUSTER_WINDOW", 6*time.Hour)
	cfg.CoolAfter = p.positiveDuration("COOL_AFTER", 6*time.Hour)
	cfg.ExpireAfter = p.positiveDuration("EXPIRE_AFTER", 24*time.Hour)
	cfg.ClockSkew = p.nonNegativeDuration("CLOCK_SKEW", 5*time.Minute)
	cfg.RecencyHalfLife = p.positiveDuration("RECENCY_HALF_LIFE", 12*time.Hour)
	cfg.WeightSatellite = p.nonNegativeFloat("SCORE_WEIGHT_SATELLITE", 0.5)
	cfg.WeightReports = p.nonNegativeFloat("SCORE_WEIGHT_REPORTS", 0.3)
	cfg.WeightDiversity = p.nonNegativeFloat("SCORE_WEIGHT_DIVERSITY", 0.2)
	cfg.PredictionHorizon = p.positiveDuration("PREDICTION_HORIZON", 6*time.Hour)
	cfg.Workers = p.positiveInt("WORKERS", 4)
	cfg.WeatherEnabled = p.bool("WEATHER_ENABLED", true)
	cfg.WeatherTimeout = p.positiveDuration("WEATHER_TIMEOUT", 5*time.Second)
	cfg.WeatherCacheSize = p.positiveInt("WEATHER_CACHE_SIZE", 1000)
	if p.err != nil {
		return nil, p.err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.MergeRadiusMeters < cfg.ClusterRadiusMeters {
		return nil, errors.New("MERGE_RADIUS_KM must be at least CLUSTER_RADIUS_KM")
	}
	if cfg.CoolAfter >= cfg.ExpireAfter {
		return nil, errors.New("COOL_AFTER must be shorter than EXPIRE_AFTER")
	}
	if cfg.ClusterWindow >= cfg.ExpireAfter {
		return nil, errors.New("CLUSTER_WINDOW must be shorter than EXPIRE_AFTER")
	}
	if cfg.WeightSatellite+cfg.WeightReports+cfg.WeightDiversity == 0 {
		return nil, errors.New("SCORE_WEIGHT_* must not all be zero")
	}
	if cfg.WeatherEnabled && cfg.WeatherBaseURL == "" {
		return nil, errors.New("WEATHER_ENABLED is true but WEATHER_BASE_URL is not set")
	}

	return cfg, nil
}

// parser reads typed variables and keeps the first error.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := os.Getenv(key)
	return v, v != ""
}

func (p *parser) fail(key, value string) {
	p.err = fmt.Errorf("invalid %s: %q", key, value)
}

func (p *parser) positiveDuration(key string, def time.Duration) time.Duration {
	s, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(key, s)
		return def
	}
	return d
}

func (p *parser) nonNegativeDuration(key string, def time.Duration) time.Duration {
	s, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		p.fail(key, s)
		return def
	}
	return d
}

func (p *parser) positiveFloat(key string, def float64) float64 {
	v := p.nonNegativeFloat(key, def)
	if p.err == nil && v == 0 {
		p.fail(key, "0")
		return def
	}
	return v
}

func (p *parser) nonNegativeFloat(key string, def float64) float64 {
	s, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(key, s)
		return def
	}
	return f
}

func (p *parser) positiveInt(key string, def int) int {
	s, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(key, s)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	s, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return b
}
