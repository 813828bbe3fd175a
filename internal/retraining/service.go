// Package retraining builds the training dataset, trains and validates a
// candidate predictor, and promotes or rejects it against the current model.
package retraining

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	"github.com/kg90-eg/alloc-sentinel/internal/database"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
	"github.com/kg90-eg/alloc-sentinel/internal/modelstore"
	"github.com/kg90-eg/alloc-sentinel/internal/utils"
)

// Decision is the outcome recorded for one retraining run.
type Decision string

const (
	DecisionPromoted         Decision = "promoted"
	DecisionRejectedLow      Decision = "rejected_low"
	DecisionRejectedDegraded Decision = "rejected_degraded"
	DecisionError            Decision = "error"
	DecisionRunning          Decision = "running"
)

// RejectedError is returned when the promotion predicate fails.
type RejectedError struct {
	Decision Decision
	Reason   string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("retraining: rejected (%s): %s", e.Decision, e.Reason) }

// RunResult summarizes one retraining invocation.
type RunResult struct {
	JobID     string
	Decision  Decision
	Metrics   Metrics
	VersionID string
}

// Service orchestrates dataset build, training, validation, and promotion.
type Service struct {
	cfg      config.RetrainingConfig
	provider marketdata.Provider
	store    *modelstore.Store
	db       *database.DB
	log      zerolog.Logger
}

// New builds a retraining Service.
func New(cfg config.RetrainingConfig, provider marketdata.Provider, store *modelstore.Store, db *database.DB, log zerolog.Logger) *Service {
	return &Service{cfg: cfg, provider: provider, store: store, db: db, log: log.With().Str("component", "retraining").Logger()}
}

// Retrain builds the dataset, trains a candidate, cross-validates it, and
// promotes or rejects it against the promotion predicate. When force
// is true, the predicate is overridden but the override is always logged
// and recorded in the metrics log.
func (s *Service) Retrain(ctx context.Context, universeTickers []string, force bool) (*RunResult, error) {
	jobID := uuid.NewString()
	startedAt := time.Now()
	defer utils.OperationTimer("retrain_run", s.log)()
	s.appendRunRow(jobID, startedAt, force, DecisionRunning, "", nil, "")

	dataset, err := BuildDataset(ctx, s.provider, universeTickers, s.cfg.DataYears)
	if err != nil {
		s.appendRunRow(jobID, startedAt, force, DecisionError, err.Error(), nil, "")
		return nil, err
	}

	candidateMetrics := CrossValidate(dataset.Examples, 5)
	candidateModel := Train(dataset.Examples)

	currentMetrics, hasCurrent := s.currentMetrics()

	decision, reason := s.evaluatePromotion(candidateMetrics, currentMetrics, hasCurrent, force)

	result := &RunResult{JobID: jobID, Decision: decision, Metrics: candidateMetrics}

	if decision == DecisionPromoted || (force && decision != DecisionError) {
		artifact := &modelstore.Artifact{
			FeatureList: FeatureOrder,
			SampleCount: len(dataset.Examples),
			Metrics: modelstore.Metrics{
				F1: candidateMetrics.F1, Accuracy: candidateMetrics.Accuracy,
				Precision: candidateMetrics.Precision, Recall: candidateMetrics.Recall, ROCAUC: candidateMetrics.ROCAUC,
			},
			TrainedAt: startedAt,
			Weights:   encodeModel(candidateModel),
		}
		if err := s.store.Promote(artifact); err != nil {
			s.appendRunRow(jobID, startedAt, force, DecisionError, err.Error(), &candidateMetrics, "")
			return nil, err
		}
		result.Decision = DecisionPromoted
		result.VersionID = artifact.VersionID
		if force && decision != DecisionPromoted {
			reason = "promotion predicate failed but force override was requested: " + reason
		}
		s.appendRunRow(jobID, startedAt, force, DecisionPromoted, reason, &candidateMetrics, artifact.VersionID)
		return result, nil
	}

	s.appendRunRow(jobID, startedAt, force, decision, reason, &candidateMetrics, "")
	return result, &RejectedError{Decision: decision, Reason: reason}
}

// evaluatePromotion applies the promotion predicate: candidate F1 >=
// 0.65 AND accuracy >= 0.70 AND F1 not more than the configured fraction
// below current F1.
func (s *Service) evaluatePromotion(candidate, current Metrics, hasCurrent, force bool) (Decision, string) {
	if candidate.F1 < s.cfg.MinF1 {
		return DecisionRejectedLow, fmt.Sprintf("candidate F1 %.3f below minimum %.3f", candidate.F1, s.cfg.MinF1)
	}
	if candidate.Accuracy < s.cfg.MinAccuracy {
		return DecisionRejectedLow, fmt.Sprintf("candidate accuracy %.3f below minimum %.3f", candidate.Accuracy, s.cfg.MinAccuracy)
	}
	if hasCurrent {
		floor := current.F1 * (1 - s.cfg.MaxF1Degradation)
		if candidate.F1 < floor {
			return DecisionRejectedDegraded, fmt.Sprintf("candidate F1 %.3f below degradation floor %.3f (current %.3f)", candidate.F1, floor, current.F1)
		}
	}
	return DecisionPromoted, "promotion predicate satisfied"
}

func (s *Service) currentMetrics() (Metrics, bool) {
	artifact, err := s.store.Current()
	if err != nil {
		return Metrics{}, false
	}
	return Metrics{
		F1: artifact.Metrics.F1, Accuracy: artifact.Metrics.Accuracy,
		Precision: artifact.Metrics.Precision, Recall: artifact.Metrics.Recall, ROCAUC: artifact.Metrics.ROCAUC,
	}, true
}

// Rollback delegates to the model store's atomic current/backup swap.
func (s *Service) Rollback() (bool, error) {
	return s.store.Rollback()
}

// Watchdog runs one held-out validation pass against the current model
// after a promotion and rolls back automatically if F1 regresses more than
// the configured tolerance.
// It is an opt-in hook the scheduler may invoke after a retraining run; it
// is never invoked implicitly by Retrain itself.
func (s *Service) Watchdog(ctx context.Context, universeTickers []string, preMetrics Metrics) error {
	if !s.cfg.AutoRollbackOnRegress {
		return nil
	}

	dataset, err := BuildDataset(ctx, s.provider, universeTickers, 1)
	if err != nil {
		return err
	}
	artifact, err := s.store.Current()
	if err != nil {
		return err
	}
	var model LinearModel
	if err := json.Unmarshal(artifact.Weights, &model); err != nil {
		return err
	}
	preds := make([]float64, len(dataset.Examples))
	labels := make([]float64, len(dataset.Examples))
	for i, ex := range dataset.Examples {
		preds[i], labels[i] = model.Predict(ex.X), ex.Y
	}
	postMetrics := computeMetrics(preds, labels)

	floor := preMetrics.F1 * (1 - s.cfg.AutoRollbackTolerance)
	if postMetrics.F1 < floor {
		s.log.Warn().Float64("pre_f1", preMetrics.F1).Float64("post_f1", postMetrics.F1).Msg("watchdog detected post-promotion regression, rolling back")
		_, err := s.store.Rollback()
		return err
	}
	return nil
}

func (s *Service) appendRunRow(jobID string, startedAt time.Time, force bool, decision Decision, reason string, metrics *Metrics, candidateVersion string) {
	var metricsJSON sql.NullString
	if metrics != nil {
		if data, err := json.Marshal(metrics); err == nil {
			metricsJSON = sql.NullString{String: string(data), Valid: true}
		}
	}

	forcedInt := 0
	if force {
		forcedInt = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO retraining_runs (job_id, started_at, finished_at, forced, decision, reason, metrics_json, candidate_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET finished_at = excluded.finished_at, decision = excluded.decision,
		   reason = excluded.reason, metrics_json = excluded.metrics_json, candidate_version = excluded.candidate_version`,
		jobID, startedAt.Format(time.RFC3339), time.Now().Format(time.RFC3339), forcedInt, string(decision), reason, metricsJSON, candidateVersion,
	)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("failed to append retraining metrics log row")
	}
}

func encodeModel(m *LinearModel) []byte {
	data, _ := json.Marshal(m)
	return data
}
