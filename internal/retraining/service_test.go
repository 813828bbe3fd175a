package retraining

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
)

func testService() *Service {
	return New(config.RetrainingConfig{
		MinF1: 0.65, MinAccuracy: 0.70, MaxF1Degradation: 0.10,
	}, nil, nil, nil, zerolog.Nop())
}

func TestEvaluatePromotion_RejectsLowF1(t *testing.T) {
	s := testService()
	decision, reason := s.evaluatePromotion(Metrics{F1: 0.5, Accuracy: 0.9}, Metrics{}, false, false)
	assert.Equal(t, DecisionRejectedLow, decision)
	assert.Contains(t, reason, "F1")
}

func TestEvaluatePromotion_RejectsLowAccuracy(t *testing.T) {
	s := testService()
	decision, _ := s.evaluatePromotion(Metrics{F1: 0.7, Accuracy: 0.5}, Metrics{}, false, false)
	assert.Equal(t, DecisionRejectedLow, decision)
}

func TestEvaluatePromotion_RejectsDegradedRelativeToCurrent(t *testing.T) {
	s := testService()
	// current F1 0.80, floor = 0.80*(1-0.10) = 0.72; candidate F1 0.70 is below floor.
	decision, reason := s.evaluatePromotion(Metrics{F1: 0.70, Accuracy: 0.80}, Metrics{F1: 0.80}, true, false)
	assert.Equal(t, DecisionRejectedDegraded, decision)
	assert.Contains(t, reason, "degradation floor")
}

func TestEvaluatePromotion_PromotesWhenAboveBothThresholdsAndNotDegraded(t *testing.T) {
	s := testService()
	decision, _ := s.evaluatePromotion(Metrics{F1: 0.75, Accuracy: 0.80}, Metrics{F1: 0.70}, true, false)
	assert.Equal(t, DecisionPromoted, decision)
}

func TestEvaluatePromotion_NoCurrentModelSkipsDegradationCheck(t *testing.T) {
	s := testService()
	decision, _ := s.evaluatePromotion(Metrics{F1: 0.66, Accuracy: 0.71}, Metrics{}, false, false)
	assert.Equal(t, DecisionPromoted, decision)
}
