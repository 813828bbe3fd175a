package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Port)
	assert.NotEmpty(t, cfg.Universe.Markets)
}

func validConfig() *Config {
	cfg, _ := Load("/tmp/decision-support-test-data")
	return cfg
}

func TestValidate_RejectsScoringWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.WeightTechnical = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.weights")
}

func TestValidate_RejectsMomentumWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.MomentumWeight10d = 0.9
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "momentum_weights")
}

func TestValidate_RejectsRegimeWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Regime.VolWeight = 0.9
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regime.weights")
}

func TestValidate_RejectsNonMonotoneSignalThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Signal.BuyMin = cfg.Signal.HoldMin - 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal.thresholds")
}

func TestValidate_RejectsNonMonotoneVIXBuckets(t *testing.T) {
	cfg := validConfig()
	cfg.Regime.VIXMediumMax = cfg.Regime.VIXLowMax - 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VIX buckets")
}

func TestValidate_RejectsNonMonotoneCompositeCutpoints(t *testing.T) {
	cfg := validConfig()
	cfg.Regime.CompositeNeutralMin = cfg.Regime.CompositeRiskOnMin + 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composite cut-points")
}

func TestValidate_RejectsEmptyUniverse(t *testing.T) {
	cfg := validConfig()
	cfg.Universe.Markets = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "universe")
}

func TestApplyExtraTickers_AppendsToUSMarketAsEquity(t *testing.T) {
	uni := applyExtraTickers(defaultUniverse(), "TSLA, PLTR")
	assert.Contains(t, uni.Markets["US"], "TSLA")
	assert.Contains(t, uni.Markets["US"], "PLTR")
	assert.Equal(t, AssetClassEquity, uni.AssetClass["TSLA"])
}

func TestApplyExtraTickers_EmptyInputLeavesUniverseUnchanged(t *testing.T) {
	base := defaultUniverse()
	uni := applyExtraTickers(base, "")
	assert.Equal(t, base.Markets["US"], uni.Markets["US"])
}
