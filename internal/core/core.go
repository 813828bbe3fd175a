// Package core wires the feature pipeline, regime detector, composite
// scorer, and guardrail engine into the service's typed external surface:
// the small set of operations a host (HTTP, CLI, tests) calls.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	contextpkg "github.com/kg90-eg/alloc-sentinel/internal/context"
	"github.com/kg90-eg/alloc-sentinel/internal/executor"
	"github.com/kg90-eg/alloc-sentinel/internal/featurecache"
	"github.com/kg90-eg/alloc-sentinel/internal/features"
	"github.com/kg90-eg/alloc-sentinel/internal/guardrails"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
	"github.com/kg90-eg/alloc-sentinel/internal/modelstore"
	"github.com/kg90-eg/alloc-sentinel/internal/regime"
	"github.com/kg90-eg/alloc-sentinel/internal/retraining"
	"github.com/kg90-eg/alloc-sentinel/internal/scheduler"
	"github.com/kg90-eg/alloc-sentinel/internal/scoring"
	"github.com/kg90-eg/alloc-sentinel/internal/universe"
)

// historyPeriod is how much trailing OHLCV the scoring path fetches: enough
// to clear the 200-bar indicator warmup with margin for holidays/weekends.
const historyPeriod = 400 * 24 * time.Hour

// RankingResult is the get_ranking response.
type RankingResult struct {
	Regime   *regime.Snapshot
	Ranking  []scoring.Breakdown
	Failures map[string]string
}

// ValidationResult mirrors guardrails.Result at the external surface boundary.
type ValidationResult = guardrails.Result

// RetrainStatus is the retrain(force) response.
type RetrainStatus struct {
	JobID  string
	Status string
}

// ModelInfo is the model_info response.
type ModelInfo struct {
	VersionID string
	Metrics   modelstore.Metrics
	Features  []string
	TrainedAt time.Time
}

// RetrainingStatus is the retraining_status response.
type RetrainingStatus struct {
	Running        bool
	CurrentMetrics *modelstore.Metrics
	NextRun        time.Time
	Jobs           map[string]scheduler.JobStatus
	Health         executor.HealthStats
}

// Service wires every subsystem into the typed external operation surface.
type Service struct {
	cfg        *config.Config
	universe   *universe.Universe
	provider   marketdata.Provider
	cache      *featurecache.Cache
	regimeDet  *regime.Detector
	modelStore *modelstore.Store
	scorer     *scoring.Scorer
	guardrail  *guardrails.Engine
	exec       *executor.Executor
	retrainSvc *retraining.Service
	contextSvc contextpkg.Provider
	sched      *scheduler.Scheduler

	// Published ranking snapshots, one per scope. A refresh replaces the
	// whole snapshot under the write lock, so readers see either the full
	// previous ranking or the full new one, never a partial list.
	rankMu    sync.RWMutex
	rankings  map[string]*publishedRanking

	log zerolog.Logger
}

type publishedRanking struct {
	result      *RankingResult
	publishedAt time.Time
}

// NewService wires a Service from its already-constructed dependencies. The
// composition root (cmd/server) owns dependency construction; Service only
// coordinates calls between them.
func NewService(
	cfg *config.Config,
	uni *universe.Universe,
	provider marketdata.Provider,
	cache *featurecache.Cache,
	regimeDet *regime.Detector,
	modelStore *modelstore.Store,
	scorer *scoring.Scorer,
	guardrail *guardrails.Engine,
	exec *executor.Executor,
	retrainSvc *retraining.Service,
	contextSvc contextpkg.Provider,
	log zerolog.Logger,
) *Service {
	if contextSvc == nil {
		contextSvc = contextpkg.NoOp{}
	}
	return &Service{
		cfg: cfg, universe: uni, provider: provider, cache: cache, regimeDet: regimeDet,
		modelStore: modelStore, scorer: scorer, guardrail: guardrail, exec: exec,
		retrainSvc: retrainSvc, contextSvc: contextSvc,
		rankings: make(map[string]*publishedRanking),
		log:      log.With().Str("component", "core").Logger(),
	}
}

// GetRanking returns the ranking for scope (a market name, or "" for the
// whole universe), serving the published snapshot while it is fresh and
// recomputing otherwise.
func (s *Service) GetRanking(ctx context.Context, scope string) (*RankingResult, error) {
	ttl := s.cfg.Cache.RankingTTL

	s.rankMu.RLock()
	pub := s.rankings[scope]
	s.rankMu.RUnlock()
	if pub != nil && ttl > 0 && time.Since(pub.publishedAt) < ttl {
		return pub.result, nil
	}

	return s.RefreshRanking(ctx, scope)
}

// RefreshRanking runs the full pipeline for every ticker in scope and
// atomically publishes the result as the scope's current snapshot. The
// scheduler's ranking-refresh job calls this on its cadence;
// concurrent readers keep seeing the previous snapshot until the new one is
// fully built.
func (s *Service) RefreshRanking(ctx context.Context, scope string) (*RankingResult, error) {
	snap, regimeErr := s.regimeDet.Snapshot(ctx)
	if regimeErr != nil {
		snap = regime.Neutral()
	}

	tickers := s.universe.Tickers(scope)

	results, _ := s.exec.Run(ctx, tickers, func(itemCtx context.Context, ticker string) (interface{}, error) {
		return s.scoreTicker(itemCtx, ticker, snap)
	})

	ranking := make([]scoring.Breakdown, 0, len(results))
	failures := make(map[string]string)
	for _, r := range results {
		if r.Err != nil {
			failures[r.Key] = r.Err.Error()
			continue
		}
		ranking = append(ranking, r.Value.(scoring.Breakdown))
	}

	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Composite != ranking[j].Composite {
			return ranking[i].Composite > ranking[j].Composite
		}
		return ranking[i].Ticker < ranking[j].Ticker
	})

	result := &RankingResult{Regime: snap, Ranking: ranking, Failures: failures}

	s.rankMu.Lock()
	s.rankings[scope] = &publishedRanking{result: result, publishedAt: time.Now()}
	s.rankMu.Unlock()

	return result, nil
}

// WarmFeatures preloads the feature cache for the top-N tickers of the last
// published full-universe ranking (falling back to universe order before the
// first ranking exists). The scheduler's warmup job calls this out-of-band so
// scoring-path reads hit a warm cache.
func (s *Service) WarmFeatures(ctx context.Context, topN int) error {
	s.rankMu.RLock()
	pub := s.rankings[""]
	s.rankMu.RUnlock()

	var tickers []string
	if pub != nil {
		for _, b := range pub.result.Ranking {
			tickers = append(tickers, b.Ticker)
		}
	} else {
		tickers = s.universe.Tickers("")
	}
	if topN > 0 && len(tickers) > topN {
		tickers = tickers[:topN]
	}

	_, metrics := s.exec.Run(ctx, tickers, func(itemCtx context.Context, ticker string) (interface{}, error) {
		key := featurecache.Key{Ticker: ticker, Period: historyPeriod, FeatureSetVersion: features.CurrentFeatureSetVersion}
		return s.cache.GetOrCompute(itemCtx, key, func(ctx context.Context) (interface{}, error) {
			frame, err := s.provider.FetchHistory(ctx, ticker, historyPeriod)
			if err != nil {
				return nil, err
			}
			return features.Compute(frame, features.MinBarsForScoring)
		})
	})

	s.log.Debug().Int("warmed", metrics.TotalItems-metrics.FailedItems).Int("failed", metrics.FailedItems).Msg("feature warmup pass completed")
	return nil
}

// GetRegime returns the current regime snapshot.
func (s *Service) GetRegime(ctx context.Context) (*regime.Snapshot, error) {
	snap, err := s.regimeDet.Snapshot(ctx)
	if err != nil {
		return regime.Neutral(), nil
	}
	return snap, nil
}

// PredictTicker computes a fresh single-ticker score.
func (s *Service) PredictTicker(ctx context.Context, ticker string) (*scoring.Breakdown, error) {
	snap, err := s.regimeDet.Snapshot(ctx)
	if err != nil {
		snap = regime.Neutral()
	}
	breakdown, err := s.scoreTicker(ctx, ticker, snap)
	if err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// SearchUniverse matches query against configured tickers and display names.
func (s *Service) SearchUniverse(query string) []string {
	return s.universe.Search(query)
}

// ValidateAllocation delegates to the Guardrail Engine.
func (s *Service) ValidateAllocation(proposal guardrails.Proposal) ValidationResult {
	snap, err := s.regimeDet.Snapshot(context.Background())
	if err != nil {
		snap = regime.Neutral()
	}
	return s.guardrail.Validate(proposal, snap)
}

// Retrain kicks off a retraining run, reporting the job id and outcome.
func (s *Service) Retrain(ctx context.Context, force bool) (*RetrainStatus, error) {
	result, err := s.retrainSvc.Retrain(ctx, s.universe.Tickers(""), force)
	if err != nil {
		var rejected *retraining.RejectedError
		if asRejected(err, &rejected) {
			return &RetrainStatus{JobID: result.JobID, Status: string(rejected.Decision)}, nil
		}
		return nil, err
	}
	return &RetrainStatus{JobID: result.JobID, Status: string(result.Decision)}, nil
}

func asRejected(err error, target **retraining.RejectedError) bool {
	re, ok := err.(*retraining.RejectedError)
	if ok {
		*target = re
	}
	return ok
}

// RollbackModel delegates to the Model Store.
func (s *Service) RollbackModel() (bool, error) {
	return s.retrainSvc.Rollback()
}

// AttachScheduler registers the scheduler so retraining_status() can report
// job state. The composition root calls this once after both the Service
// and Scheduler are constructed, since the scheduler's jobs are themselves
// closures over the Service.
func (s *Service) AttachScheduler(sched *scheduler.Scheduler) {
	s.sched = sched
}

// RetrainingStatus reports whether a retraining run is currently in flight,
// the current model's metrics, the next scheduled run, and per-job
// scheduler/health state.
func (s *Service) RetrainingStatus() RetrainingStatus {
	status := RetrainingStatus{}

	if artifact, err := s.modelStore.Current(); err == nil {
		status.CurrentMetrics = &artifact.Metrics
	}

	if s.sched != nil {
		jobs := s.sched.Status()
		status.Jobs = jobs
		if retrainJob, ok := jobs["retraining"]; ok {
			status.Running = retrainJob.Running
			status.NextRun = retrainJob.NextRun
		}
	}

	status.Health = s.exec.Health()

	return status
}

// ModelInfo returns the current model's metadata.
func (s *Service) ModelInfo() (*ModelInfo, error) {
	artifact, err := s.modelStore.Current()
	if err != nil {
		return nil, err
	}
	return &ModelInfo{
		VersionID: artifact.VersionID,
		Metrics:   artifact.Metrics,
		Features:  artifact.FeatureList,
		TrainedAt: artifact.TrainedAt,
	}, nil
}

// scoreTicker runs the per-ticker pipeline: fetch -> feature-cache-backed
// compute -> predict -> score.
func (s *Service) scoreTicker(ctx context.Context, ticker string, snap *regime.Snapshot) (scoring.Breakdown, error) {
	key := featurecache.Key{Ticker: ticker, Period: historyPeriod, FeatureSetVersion: features.CurrentFeatureSetVersion}

	cached, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, error) {
		frame, err := s.provider.FetchHistory(ctx, ticker, historyPeriod)
		if err != nil {
			return nil, err
		}
		return features.Compute(frame, features.MinBarsForScoring)
	})
	if err != nil {
		return scoring.Breakdown{}, err
	}

	featFrame := cached.(*features.Frame)
	row, ok := featFrame.Latest()
	if !ok {
		return scoring.Breakdown{}, fmt.Errorf("core: %s: empty feature frame", ticker)
	}

	mlProb := 0.5
	if artifact, err := s.modelStore.Current(); err == nil {
		mlProb = retraining.Predict(artifact, row)
	}

	ctxRecord, _ := s.contextSvc.Context(ctx, ticker)

	in := scoring.Input{
		Ticker:        ticker,
		Row:           row,
		MLProbability: mlProb,
		Regime:        snap,
		Context:       ctxRecord,
		AssetClass:    s.universe.AssetClass(ticker),
	}

	return s.scorer.Score(in), nil
}
