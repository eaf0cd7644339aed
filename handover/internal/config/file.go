package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig maps the TOML overlay keys onto Config.
type fileConfig struct {
	Addr       string `toml:"addr"`
	GRPCAddr   string `toml:"grpc_addr"`
	LogLevel   string `toml:"log_level"`
	KafkaTopic string `toml:"kafka_topic"`

	Selector struct {
		MaxCandidates   int                `toml:"max_candidates"`
		MinElevation    float64            `toml:"min_elevation"`
		MinSignal       float64            `toml:"min_signal"`
		MaxLoad         float64            `toml:"max_load"`
		MinVisibility   float64            `toml:"min_visibility"`
		Parallel        bool               `toml:"parallel"`
		StrategyTimeout string             `toml:"strategy_timeout"`
		MaxPoolSize     int                `toml:"max_pool_size"`
		Weights         map[string]float64 `toml:"weights"`
	} `toml:"selector"`

	Scoring struct {
		Method                string             `toml:"method"`
		Normalization         bool               `toml:"normalization"`
		ConfidenceWeighting   bool               `toml:"confidence_weighting"`
		OutlierHandling       bool               `toml:"outlier_handling"`
		MinStrategiesRequired int                `toml:"min_strategies_required"`
		ScoreThreshold        float64            `toml:"score_threshold"`
		RankingMethod         string             `toml:"ranking_method"`
		BoostFactors          map[string]float64 `toml:"boost_factors"`
		CustomWeights         map[string]float64 `toml:"custom_weights"`
	} `toml:"scoring"`

	Executor struct {
		DefaultTimeout   string  `toml:"default_timeout"`
		MaxConcurrent    int     `toml:"max_concurrent"`
		RollbackEnabled  bool    `toml:"rollback_enabled"`
		MinConfidence    float64 `toml:"min_confidence"`
		MinSignalQuality float64 `toml:"min_signal_quality"`
		PhaseTimeScale   float64 `toml:"phase_time_scale"`
	} `toml:"executor"`

	Pipeline struct {
		MaxRetries  int    `toml:"max_retries"`
		Exponential bool   `toml:"exponential"`
		BaseDelay   string `toml:"base_delay"`
		MaxDelay    string `toml:"max_delay"`
	} `toml:"pipeline"`
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("grpc_addr") {
		cfg.GRPCAddr = strings.TrimSpace(raw.GRPCAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("kafka_topic") {
		cfg.KafkaTopic = strings.TrimSpace(raw.KafkaTopic)
	}

	sel := &cfg.Selector
	if meta.IsDefined("selector", "max_candidates") {
		sel.MaxCandidates = raw.Selector.MaxCandidates
	}
	if meta.IsDefined("selector", "min_elevation") {
		sel.MinElevation = raw.Selector.MinElevation
	}
	if meta.IsDefined("selector", "min_signal") {
		sel.MinSignal = raw.Selector.MinSignal
	}
	if meta.IsDefined("selector", "max_load") {
		sel.MaxLoad = raw.Selector.MaxLoad
	}
	if meta.IsDefined("selector", "min_visibility") {
		sel.MinVisibility = raw.Selector.MinVisibility
	}
	if meta.IsDefined("selector", "parallel") {
		sel.Parallel = raw.Selector.Parallel
	}
	if meta.IsDefined("selector", "strategy_timeout") {
		if sel.StrategyTimeout, err = parseDuration("selector.strategy_timeout", raw.Selector.StrategyTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("selector", "max_pool_size") {
		sel.MaxPoolSize = raw.Selector.MaxPoolSize
	}
	for name, w := range raw.Selector.Weights {
		sel.Weights[name] = w
	}

	sc := &cfg.Scoring
	if meta.IsDefined("scoring", "method") {
		sc.Method = strings.TrimSpace(raw.Scoring.Method)
	}
	if meta.IsDefined("scoring", "normalization") {
		sc.Normalization = raw.Scoring.Normalization
	}
	if meta.IsDefined("scoring", "confidence_weighting") {
		sc.ConfidenceWeighting = raw.Scoring.ConfidenceWeighting
	}
	if meta.IsDefined("scoring", "outlier_handling") {
		sc.OutlierHandling = raw.Scoring.OutlierHandling
	}
	if meta.IsDefined("scoring", "min_strategies_required") {
		sc.MinStrategiesRequired = raw.Scoring.MinStrategiesRequired
	}
	if meta.IsDefined("scoring", "score_threshold") {
		sc.ScoreThreshold = raw.Scoring.ScoreThreshold
	}
	if meta.IsDefined("scoring", "ranking_method") {
		sc.RankingMethod = strings.TrimSpace(raw.Scoring.RankingMethod)
	}
	for cond, f := range raw.Scoring.BoostFactors {
		sc.BoostFactors[cond] = f
	}
	for id, w := range raw.Scoring.CustomWeights {
		sc.CustomWeights[id] = w
	}

	ex := &cfg.Executor
	if meta.IsDefined("executor", "default_timeout") {
		if ex.DefaultTimeout, err = parseDuration("executor.default_timeout", raw.Executor.DefaultTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("executor", "max_concurrent") {
		ex.MaxConcurrent = raw.Executor.MaxConcurrent
	}
	if meta.IsDefined("executor", "rollback_enabled") {
		ex.RollbackEnabled = raw.Executor.RollbackEnabled
	}
	if meta.IsDefined("executor", "min_confidence") {
		ex.MinConfidence = raw.Executor.MinConfidence
	}
	if meta.IsDefined("executor", "min_signal_quality") {
		ex.MinSignalQuality = raw.Executor.MinSignalQuality
	}
	if meta.IsDefined("executor", "phase_time_scale") {
		ex.PhaseTimeScale = raw.Executor.PhaseTimeScale
	}

	pl := &cfg.Pipeline
	if meta.IsDefined("pipeline", "max_retries") {
		pl.MaxRetries = raw.Pipeline.MaxRetries
	}
	if meta.IsDefined("pipeline", "exponential") {
		pl.Exponential = raw.Pipeline.Exponential
	}
	if meta.IsDefined("pipeline", "base_delay") {
		if pl.BaseDelay, err = parseDuration("pipeline.base_delay", raw.Pipeline.BaseDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("pipeline", "max_delay") {
		if pl.MaxDelay, err = parseDuration("pipeline.max_delay", raw.Pipeline.MaxDelay); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load config file: %s: %w", key, err)
	}
	return d, nil
}
