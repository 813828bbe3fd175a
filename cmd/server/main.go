// Package main is the entry point for the decision support service. It
// wires configuration, persistence, the scoring pipeline, the scheduler,
// and a thin HTTP host surface, then blocks until shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	contextpkg "github.com/kg90-eg/alloc-sentinel/internal/context"
	"github.com/kg90-eg/alloc-sentinel/internal/core"
	"github.com/kg90-eg/alloc-sentinel/internal/database"
	"github.com/kg90-eg/alloc-sentinel/internal/executor"
	"github.com/kg90-eg/alloc-sentinel/internal/featurecache"
	"github.com/kg90-eg/alloc-sentinel/internal/guardrails"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
	"github.com/kg90-eg/alloc-sentinel/internal/modelstore"
	"github.com/kg90-eg/alloc-sentinel/internal/regime"
	"github.com/kg90-eg/alloc-sentinel/internal/retraining"
	"github.com/kg90-eg/alloc-sentinel/internal/scheduler"
	"github.com/kg90-eg/alloc-sentinel/internal/scoring"
	"github.com/kg90-eg/alloc-sentinel/internal/universe"
	"github.com/kg90-eg/alloc-sentinel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting decision support service")

	modelDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/modelstore.db",
		Profile: database.ProfileStandard,
		Name:    "modelstore",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open model store database")
	}
	defer modelDB.Close()

	metricsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/metrics.db",
		Profile: database.ProfileLedger,
		Name:    "metrics",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open metrics log database")
	}
	defer metricsDB.Close()
	if err := metricsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate metrics log database")
	}

	store, err := modelstore.New(modelDB, cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize model store")
	}

	uni := universe.New(cfg.Universe)

	provider := marketdata.NewAdapter(marketdata.NewStooqSource(5), 5, log)

	cache := featurecache.New(cfg.Cache.FeatureTTL, 2000)

	regimeDet := regime.NewDetector(cfg.Regime, provider, "VIX", "SPX", log)

	scorer := scoring.New(cfg.Scoring, cfg.Signal, cfg.Allocation, cfg.Context)
	guardrail := guardrails.New(cfg.Allocation)
	exec := executor.New(cfg.Executor.Workers, time.Duration(cfg.Executor.TimeoutSeconds)*time.Second)

	retrainSvc := retraining.New(cfg.Retraining, provider, store, metricsDB, log)

	var contextSvc contextpkg.Provider = contextpkg.NoOp{}

	svc := core.NewService(cfg, uni, provider, cache, regimeDet, store, scorer, guardrail, exec, retrainSvc, contextSvc, log)

	marketHours := []scheduler.MarketHours{
		{Market: "US", OpenUTC: 14*time.Hour + 30*time.Minute, CloseUTC: 21 * time.Hour, WeekendOff: true},
		{Market: "CH", OpenUTC: 8 * time.Hour, CloseUTC: 16*time.Hour + 30*time.Minute, WeekendOff: true},
	}
	cadence := scheduler.CadenceFunc(marketHours, 15*time.Minute, time.Hour, time.Now)

	sched, err := scheduler.New(log, 15*time.Minute, 10*time.Minute, cfg.Retraining.CronSpec, cadence)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse retraining cron schedule")
	}
	sched.SetJobs(
		scheduler.Job{Name: "ranking_refresh", Run: func(ctx context.Context) error {
			_, err := svc.RefreshRanking(ctx, "")
			return err
		}},
		scheduler.Job{Name: "feature_warmup", Run: func(ctx context.Context) error {
			return svc.WarmFeatures(ctx, 10)
		}},
		scheduler.Job{Name: "retraining", Run: func(ctx context.Context) error {
			_, err := svc.Retrain(ctx, false)
			return err
		}},
	)
	svc.AttachScheduler(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	log.Info().Msg("scheduler started")

	router := buildRouter(svc, cfg, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildRouter exposes the core's typed operations behind a thin chi
// router. This wiring is intentionally minimal: no auth, no user-owned
// persistence, no websocket surface.
func buildRouter(svc *core.Service, cfg *config.Config, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/api/ranking", func(w http.ResponseWriter, req *http.Request) {
		result, err := svc.GetRanking(req.Context(), req.URL.Query().Get("scope"))
		writeJSON(w, result, err)
	})
	r.Get("/api/regime", func(w http.ResponseWriter, req *http.Request) {
		result, err := svc.GetRegime(req.Context())
		writeJSON(w, result, err)
	})
	r.Get("/api/predict/{ticker}", func(w http.ResponseWriter, req *http.Request) {
		ticker := chi.URLParam(req, "ticker")
		result, err := svc.PredictTicker(req.Context(), ticker)
		writeJSON(w, result, err)
	})
	r.Get("/api/universe/search", func(w http.ResponseWriter, req *http.Request) {
		result := svc.SearchUniverse(req.URL.Query().Get("q"))
		writeJSON(w, result, nil)
	})
	r.Post("/api/allocation/validate", func(w http.ResponseWriter, req *http.Request) {
		var proposal guardrails.Proposal
		if err := json.NewDecoder(req.Body).Decode(&proposal); err != nil {
			writeJSON(w, nil, err)
			return
		}
		result := svc.ValidateAllocation(proposal)
		writeJSON(w, result, nil)
	})
	r.Post("/api/admin/retrain", func(w http.ResponseWriter, req *http.Request) {
		force := req.URL.Query().Get("force") == "true"
		result, err := svc.Retrain(req.Context(), force)
		writeJSON(w, result, err)
	})
	r.Post("/api/admin/rollback", func(w http.ResponseWriter, req *http.Request) {
		ok, err := svc.RollbackModel()
		writeJSON(w, map[string]bool{"success": ok}, err)
	})
	r.Get("/api/admin/model", func(w http.ResponseWriter, req *http.Request) {
		result, err := svc.ModelInfo()
		writeJSON(w, result, err)
	})
	r.Get("/api/admin/retraining-status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, svc.RetrainingStatus(), nil)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

