package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowOperationThreshold is where a timed operation stops being a debug
// curiosity and becomes worth a warning: retraining runs and full-universe
// refreshes routinely take seconds, so anything past this is stuck I/O or a
// runaway dataset build.
const slowOperationThreshold = 30 * time.Second

// OperationTimer returns a defer-friendly stop function that logs how long
// the named operation took.
//
// Usage:
//
//	func (s *Service) Retrain(...) {
//	    defer utils.OperationTimer("retrain_run", s.log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("Operation completed")

		if duration > slowOperationThreshold {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Msg("Slow operation detected")
		}
	}
}
