// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env
// file) and exposes a single immutable Config value for the rest of the
// process. Every component receives this value by constructor injection;
// nothing in internal/ reads os.Getenv directly outside this package.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
// 3. Validate (weights sum to 1.0, thresholds monotone)
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kg90-eg/alloc-sentinel/internal/utils"
)

// Config holds application configuration for the decision support service.
type Config struct {
	DataDir  string // Base directory for persisted state (model artifacts, metrics log)
	LogLevel string // Log level (debug, info, warn, error)
	Port     int    // HTTP server port
	DevMode  bool   // Development mode flag

	Universe   UniverseConfig
	Scoring    ScoringConfig
	Signal     SignalConfig
	Regime     RegimeConfig
	Allocation AllocationConfig
	Retraining RetrainingConfig
	Executor   ExecutorConfig
	Cache      CacheConfig
	Context    ContextConfig
}

// UniverseConfig enumerates the fixed, versioned asset universe: market -> tickers.
type UniverseConfig struct {
	Markets     map[string][]string  // market -> ticker list
	AssetClass  map[string]AssetClass // ticker -> asset class
	DisplayName map[string]string    // ticker -> display name, for search_universe
	Version     int
}

// AssetClass distinguishes equities from crypto for allocation-cap purposes.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassCrypto AssetClass = "crypto"
)

// ScoringConfig holds the composite-score component weights. Must sum to 1.0.
type ScoringConfig struct {
	WeightTechnical float64
	WeightML        float64
	WeightMomentum  float64
	WeightRegime    float64

	MomentumWeight10d float64
	MomentumWeight30d float64
	MomentumWeight60d float64

	FeatureSetVersion int
}

// SignalConfig holds the four composite cut-points separating the five signal classes,
// plus each buy-side signal's normal (RISK_ON, equity) allocation ceiling.
type SignalConfig struct {
	StrongBuyMin         float64 // >= this is STRONG_BUY
	BuyMin               float64 // >= this (and < StrongBuyMin) is BUY
	HoldMin              float64 // >= this (and < BuyMin) is HOLD
	ConsiderSellingMin   float64 // >= this (and < HoldMin) is CONSIDER_SELLING; below is SELL

	MaxAllocStrongBuy float64 // normal ceiling for STRONG_BUY, e.g. 0.10
	MaxAllocBuy       float64 // normal ceiling for BUY, e.g. 0.075
	MaxAllocHold      float64 // normal ceiling for HOLD (rebalance only), e.g. 0.05
}

// RegimeConfig holds the VIX buckets and composite cut-points for the regime detector.
type RegimeConfig struct {
	VIXLowMax    float64 // LOW < this
	VIXMediumMax float64 // MEDIUM < this
	VIXHighMax   float64 // HIGH < this; >= this is EXTREME

	CompositeRiskOnMin float64 // >= this is RISK_ON
	CompositeNeutralMin float64 // >= this (and < RiskOnMin) is NEUTRAL; below is RISK_OFF

	VolWeight   float64 // weight of the volatility term in the composite
	TrendWeight float64 // weight of the trend term; VolWeight+TrendWeight must sum to 1.0

	SnapshotTTL  time.Duration
	StaleGrace   time.Duration
}

// AllocationConfig holds per-asset and per-class ceilings per regime class.
type AllocationConfig struct {
	PerAssetEquityRiskOn  float64
	PerAssetCryptoRiskOn  float64
	PerAssetEquityRiskOff float64
	PerAssetCryptoRiskOff float64

	ClassEquityRiskOnMax  float64
	ClassEquityRiskOffMax float64
	ClassCryptoRiskOnMax  float64
	ClassCryptoRiskOffMax float64

	CashFloorRiskOn  float64
	CashFloorRiskOff float64

	MaxPositionWeight float64 // concentration guardrail, independent of regime
}

// RetrainingConfig holds the retraining schedule and validation thresholds.
type RetrainingConfig struct {
	CronSpec             string // e.g. "0 2 * * *"
	WeeklyFullRetrain     bool
	DataYears             int
	MinF1                 float64
	MinAccuracy           float64
	MaxF1Degradation      float64 // fraction, e.g. 0.10 for "not more than 10% below current"
	AutoRollbackOnRegress bool
	AutoRollbackTolerance float64
}

// ExecutorConfig holds the parallel executor's concurrency and timeout knobs (C7).
type ExecutorConfig struct {
	Workers        int
	TimeoutSeconds int
}

// CacheConfig holds per-cache-kind TTLs (C2, C5 snapshot cache).
type CacheConfig struct {
	FeatureTTL time.Duration
	RegimeTTL  time.Duration
	RankingTTL time.Duration
}

// ContextConfig holds the bounded context subsystem's knobs.
type ContextConfig struct {
	Enabled       bool
	MaxAdjustment float64
}

// Load reads configuration from environment variables, applying defaults for
// everything not present, then validates. dataDirOverride optionally takes
// priority over the DECISION_DATA_DIR environment variable.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("DECISION_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Universe: applyExtraTickers(defaultUniverse(), getEnv("UNIVERSE_EXTRA_EQUITY_TICKERS", "")),

		Scoring: ScoringConfig{
			WeightTechnical:   0.40,
			WeightML:          0.30,
			WeightMomentum:    0.20,
			WeightRegime:      0.10,
			MomentumWeight10d: 0.25,
			MomentumWeight30d: 0.35,
			MomentumWeight60d: 0.40,
			FeatureSetVersion: 1,
		},

		Signal: SignalConfig{
			StrongBuyMin:       80,
			BuyMin:             65,
			HoldMin:            45,
			ConsiderSellingMin: 35,
			MaxAllocStrongBuy:  0.10,
			MaxAllocBuy:        0.075,
			MaxAllocHold:       0.05,
		},

		Regime: RegimeConfig{
			VIXLowMax:           15,
			VIXMediumMax:        20,
			VIXHighMax:          30,
			CompositeRiskOnMin:  70,
			CompositeNeutralMin: 40,
			VolWeight:           0.60,
			TrendWeight:         0.40,
			SnapshotTTL:         5 * time.Minute,
			StaleGrace:          30 * time.Minute,
		},

		Allocation: AllocationConfig{
			PerAssetEquityRiskOn:  0.10,
			PerAssetCryptoRiskOn:  0.05,
			PerAssetEquityRiskOff: 0.05,
			PerAssetCryptoRiskOff: 0.02,
			ClassEquityRiskOnMax:  0.70,
			ClassEquityRiskOffMax: 0.50,
			ClassCryptoRiskOnMax:  0.20,
			ClassCryptoRiskOffMax: 0.10,
			CashFloorRiskOn:       0.10,
			CashFloorRiskOff:      0.30,
			MaxPositionWeight:     0.20,
		},

		Retraining: RetrainingConfig{
			CronSpec:              getEnv("RETRAIN_CRON", "0 2 * * *"),
			WeeklyFullRetrain:     getEnvAsBool("RETRAIN_WEEKLY_FULL", false),
			DataYears:             getEnvAsInt("RETRAIN_DATA_YEARS", 5),
			MinF1:                 0.65,
			MinAccuracy:           0.70,
			MaxF1Degradation:      0.10,
			AutoRollbackOnRegress: getEnvAsBool("RETRAIN_AUTO_ROLLBACK", false),
			AutoRollbackTolerance: 0.10,
		},

		Executor: ExecutorConfig{
			Workers:        getEnvAsInt("EXECUTOR_WORKERS", 10),
			TimeoutSeconds: getEnvAsInt("EXECUTOR_TIMEOUT_SECONDS", 5),
		},

		Cache: CacheConfig{
			FeatureTTL: 5 * time.Minute,
			RegimeTTL:  5 * time.Minute,
			RankingTTL: 15 * time.Minute,
		},

		Context: ContextConfig{
			Enabled:       getEnvAsBool("CONTEXT_ENABLED", false),
			MaxAdjustment: 5.0,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultUniverse returns a small, explicit starter universe across markets
// and asset classes. Universe membership changes only by editing this
// configuration (or the equivalent external config source it is loaded from).
func defaultUniverse() UniverseConfig {
	return UniverseConfig{
		Version: 1,
		Markets: map[string][]string{
			"US":     {"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL"},
			"CH":     {"NESN.SW", "ROG.SW", "NOVN.SW"},
			"CRYPTO": {"BTC-USD", "ETH-USD"},
		},
		AssetClass: map[string]AssetClass{
			"AAPL":    AssetClassEquity,
			"MSFT":    AssetClassEquity,
			"NVDA":    AssetClassEquity,
			"AMZN":    AssetClassEquity,
			"GOOGL":   AssetClassEquity,
			"NESN.SW": AssetClassEquity,
			"ROG.SW":  AssetClassEquity,
			"NOVN.SW": AssetClassEquity,
			"BTC-USD": AssetClassCrypto,
			"ETH-USD": AssetClassCrypto,
		},
		DisplayName: map[string]string{
			"AAPL":    "Apple Inc.",
			"MSFT":    "Microsoft Corporation",
			"NVDA":    "NVIDIA Corporation",
			"AMZN":    "Amazon.com Inc.",
			"GOOGL":   "Alphabet Inc.",
			"NESN.SW": "Nestle S.A.",
			"ROG.SW":  "Roche Holding AG",
			"NOVN.SW": "Novartis AG",
			"BTC-USD": "Bitcoin",
			"ETH-USD": "Ethereum",
		},
	}
}

// applyExtraTickers appends operator-supplied equity tickers (a comma
// separated UNIVERSE_EXTRA_EQUITY_TICKERS list) to the "US" market without
// touching the curated default universe's display names or asset classes.
func applyExtraTickers(uni UniverseConfig, csv string) UniverseConfig {
	extra := utils.ParseCSV(csv)
	if len(extra) == 0 {
		return uni
	}
	uni.Markets["US"] = append(uni.Markets["US"], extra...)
	for _, ticker := range extra {
		uni.AssetClass[ticker] = AssetClassEquity
	}
	return uni
}

// Validate checks the scoring/threshold configuration invariants:
// weights sum to 1.0, thresholds are monotone.
func (c *Config) Validate() error {
	if err := validateWeightsSumToOne(
		c.Scoring.WeightTechnical, c.Scoring.WeightML, c.Scoring.WeightMomentum, c.Scoring.WeightRegime,
	); err != nil {
		return fmt.Errorf("scoring.weights: %w", err)
	}
	if err := validateWeightsSumToOne(
		c.Scoring.MomentumWeight10d, c.Scoring.MomentumWeight30d, c.Scoring.MomentumWeight60d,
	); err != nil {
		return fmt.Errorf("scoring.momentum_weights: %w", err)
	}
	if err := validateWeightsSumToOne(c.Regime.VolWeight, c.Regime.TrendWeight); err != nil {
		return fmt.Errorf("regime.weights: %w", err)
	}

	s := c.Signal
	if !(s.ConsiderSellingMin < s.HoldMin && s.HoldMin < s.BuyMin && s.BuyMin < s.StrongBuyMin) {
		return fmt.Errorf("signal.thresholds must be strictly increasing: %.2f < %.2f < %.2f < %.2f",
			s.ConsiderSellingMin, s.HoldMin, s.BuyMin, s.StrongBuyMin)
	}

	r := c.Regime
	if !(r.VIXLowMax < r.VIXMediumMax && r.VIXMediumMax < r.VIXHighMax) {
		return fmt.Errorf("regime.thresholds: VIX buckets must be strictly increasing")
	}
	if !(r.CompositeNeutralMin < r.CompositeRiskOnMin) {
		return fmt.Errorf("regime.thresholds: composite cut-points must be strictly increasing")
	}

	if len(c.Universe.Markets) == 0 {
		return fmt.Errorf("universe: at least one market must be configured")
	}

	return nil
}

func validateWeightsSumToOne(weights ...float64) error {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
