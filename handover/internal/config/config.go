package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	GRPCAddr       string
	DatabaseURL    string
	SQLitePath     string
	LogLevel       string
	LogDevelopment bool

	JWTSecret       string
	JWTIssuer       string
	WriteScope      string
	AllowDebugToken bool
	DebugToken      string

	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string

	ProviderURL     string
	ProviderTimeout time.Duration
	ProviderRetries int
	SatelliteFile   string
	ConfigFile      string

	Selector SelectorConfig
	Scoring  ScoringConfig
	Executor ExecutorConfig
	Pipeline PipelineConfig
}

type SelectorConfig struct {
	MaxCandidates   int
	MinElevation    float64
	MinSignal       float64
	MaxLoad         float64
	MinVisibility   float64
	Parallel        bool
	StrategyTimeout time.Duration
	MaxPoolSize     int
	Weights         map[string]float64
}

type ScoringConfig struct {
	Method                string
	Normalization         bool
	ConfidenceWeighting   bool
	OutlierHandling       bool
	MinStrategiesRequired int
	ScoreThreshold        float64
	RankingMethod         string
	BoostFactors          map[string]float64
	CustomWeights         map[string]float64
}

type ExecutorConfig struct {
	DefaultTimeout   time.Duration
	MaxConcurrent    int
	RollbackEnabled  bool
	MinConfidence    float64
	MinSignalQuality float64
	PhaseTimeScale   float64
}

type PipelineConfig struct {
	MaxRetries  int
	Exponential bool
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	defaultAddr     = ":8071"
	defaultGRPCAddr = ":9071"
	defaultScope    = "handover:write"
	defaultTopic    = "handover.visualization"
)

// Load reads the environment and then applies HANDOVER_CONFIG_FILE, when set,
// as a TOML overlay.
func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("HANDOVER_ADDR", defaultAddr),
		GRPCAddr:        getEnv("HANDOVER_GRPC_ADDR", defaultGRPCAddr),
		DatabaseURL:     firstNonEmpty(os.Getenv("HANDOVER_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		SQLitePath:      os.Getenv("HANDOVER_SQLITE_PATH"),
		LogLevel:        getEnv("HANDOVER_LOG_LEVEL", "info"),
		LogDevelopment:  getBool("HANDOVER_LOG_DEV", false),
		JWTSecret:       os.Getenv("HANDOVER_JWT_SECRET"),
		JWTIssuer:       os.Getenv("HANDOVER_JWT_ISSUER"),
		WriteScope:      getEnv("HANDOVER_WRITE_SCOPE", defaultScope),
		AllowDebugToken: getBool("HANDOVER_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("HANDOVER_DEBUG_TOKEN"),
		KafkaBrokers:    parseCSV(os.Getenv("HANDOVER_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("HANDOVER_KAFKA_TOPIC", defaultTopic),
		S3Bucket:        os.Getenv("HANDOVER_S3_BUCKET"),
		S3Prefix:        os.Getenv("HANDOVER_S3_PREFIX"),
		ProviderURL:     os.Getenv("HANDOVER_PROVIDER_URL"),
		ProviderTimeout: getDuration("HANDOVER_PROVIDER_TIMEOUT", 5*time.Second),
		ProviderRetries: getInt("HANDOVER_PROVIDER_RETRIES", 2),
		SatelliteFile:   os.Getenv("HANDOVER_SATELLITE_FILE"),
		ConfigFile:      os.Getenv("HANDOVER_CONFIG_FILE"),
		Selector: SelectorConfig{
			MaxCandidates:   getInt("HANDOVER_MAX_CANDIDATES", 10),
			MinElevation:    getFloat("HANDOVER_MIN_ELEVATION", 10),
			MinSignal:       getFloat("HANDOVER_MIN_SIGNAL", -120),
			MaxLoad:         getFloat("HANDOVER_MAX_LOAD", 0.9),
			MinVisibility:   getFloat("HANDOVER_MIN_VISIBILITY", 300),
			Parallel:        getBool("HANDOVER_PARALLEL_STRATEGIES", true),
			StrategyTimeout: getDuration("HANDOVER_STRATEGY_TIMEOUT", 5*time.Second),
			MaxPoolSize:     getInt("HANDOVER_MAX_POOL_SIZE", 50),
			Weights: map[string]float64{
				"elevation":  0.25,
				"signal":     0.25,
				"load":       0.20,
				"distance":   0.15,
				"visibility": 0.15,
			},
		},
		Scoring: ScoringConfig{
			Method:                getEnv("HANDOVER_SCORING_METHOD", "weighted_average"),
			Normalization:         getBool("HANDOVER_SCORING_NORMALIZE", true),
			ConfidenceWeighting:   getBool("HANDOVER_SCORING_CONFIDENCE_WEIGHTING", true),
			OutlierHandling:       getBool("HANDOVER_SCORING_OUTLIERS", true),
			MinStrategiesRequired: getInt("HANDOVER_MIN_STRATEGIES", 2),
			ScoreThreshold:        getFloat("HANDOVER_SCORE_THRESHOLD", 0),
			RankingMethod:         getEnv("HANDOVER_RANKING_METHOD", "score_desc"),
			BoostFactors:          map[string]float64{},
			CustomWeights:         map[string]float64{},
		},
		Executor: ExecutorConfig{
			DefaultTimeout:   getDuration("HANDOVER_EXECUTION_TIMEOUT", 30*time.Second),
			MaxConcurrent:    getInt("HANDOVER_MAX_CONCURRENT_EXECUTIONS", 10),
			RollbackEnabled:  getBool("HANDOVER_ROLLBACK_ENABLED", true),
			MinConfidence:    getFloat("HANDOVER_MIN_DECISION_CONFIDENCE", 0.1),
			MinSignalQuality: getFloat("HANDOVER_MIN_SIGNAL_QUALITY", 0.7),
			PhaseTimeScale:   getFloat("HANDOVER_PHASE_TIME_SCALE", 0.01),
		},
		Pipeline: PipelineConfig{
			MaxRetries:  getInt("HANDOVER_STAGE_RETRIES", 2),
			Exponential: getBool("HANDOVER_STAGE_BACKOFF_EXPONENTIAL", true),
			BaseDelay:   getDuration("HANDOVER_STAGE_BACKOFF", 100*time.Millisecond),
			MaxDelay:    getDuration("HANDOVER_STAGE_BACKOFF_MAX", 2*time.Second),
		},
	}

	if cfg.ConfigFile != "" {
		if err := applyFile(&cfg, cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	nodeEnv := os.Getenv("NODE_ENV")
	if nodeEnv == "production" && c.JWTSecret == "" {
		return fmt.Errorf("HANDOVER_JWT_SECRET required in production")
	}
	if c.AllowDebugToken && c.DebugToken == "" {
		return fmt.Errorf("HANDOVER_DEBUG_TOKEN required when HANDOVER_ALLOW_DEBUG_TOKEN is set")
	}
	if c.Selector.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent executions must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("stage retries must not be negative")
	}
	for name, w := range c.Selector.Weights {
		if w <= 0 {
			return fmt.Errorf("strategy weight for %s must be positive", name)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
