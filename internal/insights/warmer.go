package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Warmer periodically refreshes cached insights for a fixed set of locations
// so dashboard requests rarely wait on the model
type Warmer struct {
	engine    *Engine
	scheduler *gocron.Scheduler
	locations []string
	period    string
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewWarmer creates a warmer. Nothing runs until Start.
func NewWarmer(engine *Engine, locations []string, period string, interval time.Duration, logger zerolog.Logger) *Warmer {
	if period == "" {
		period = DefaultPeriod
	}
	return &Warmer{
		engine:    engine,
		scheduler: gocron.NewScheduler(time.UTC),
		locations: locations,
		period:    period,
		interval:  interval,
		timeout:   2 * time.Minute,
		logger:    logger,
	}
}

// Start schedules the refresh job, running it once immediately
func (w *Warmer) Start() error {
	if len(w.locations) == 0 {
		w.logger.Info().Msg("No warm locations configured, cache warmer disabled")
		return nil
	}
	if w.interval < time.Minute {
		return fmt.Errorf("warm interval %s is shorter than 1m", w.interval)
	}

	if _, err := w.scheduler.Every(w.interval).SingletonMode().Do(w.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule cache warmer: %w", err)
	}
	w.scheduler.StartAsync()

	w.logger.Info().
		Strs("locations", w.locations).
		Str("period", w.period).
		Dur("interval", w.interval).
		Msg("Insight cache warmer started")
	return nil
}

// RunOnce refreshes every configured location sequentially
func (w *Warmer) RunOnce() {
	refreshed := 0
	for _, loc := range w.locations {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		_, err := w.engine.Refresh(ctx, Params{Location: loc, Period: w.period})
		cancel()
		if err != nil {
			w.logger.Error().Err(err).Str("location", loc).Msg("Failed to warm insight")
			continue
		}
		refreshed++
	}
	purged := w.engine.Cache().Purge()
	w.logger.Debug().Int("refreshed", refreshed).Int("purged", purged).Msg("Cache warm cycle complete")
}

// Stop stops the scheduler
func (w *Warmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
