// Package sweep runs the periodic housekeeping pass that fails queue
// entries whose start event never arrived. The coordinator runs no timers
// of its own; timeout detection is this scheduled external trigger, which
// feeds synthetic timeout events into the ingestion path.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pixelvault/pixelvault-api/internal/ingest"
	"github.com/pixelvault/pixelvault-api/internal/queue"
)

// Config holds the sweeper's policy knobs. Both values are deliberately
// configuration, not constants: the right timeout depends on the deployed
// worker fleet.
type Config struct {
	// StartTimeout is how long a queued entry may wait for a start event
	// before it is failed.
	StartTimeout time.Duration

	// Interval is the cadence of the sweep.
	Interval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		StartTimeout: 10 * time.Minute,
		Interval:     time.Minute,
	}
}

// Sweeper periodically scans the queued set for orphaned entries.
type Sweeper struct {
	coordinator *queue.Coordinator
	ingestor    *ingest.Ingestor
	cfg         Config
	logger      *slog.Logger
	cron        *cron.Cron
}

// NewSweeper creates a new Sweeper.
// It returns an error if any of the required dependencies are nil.
func NewSweeper(
	coordinator *queue.Coordinator,
	ingestor *ingest.Ingestor,
	cfg Config,
	logger *slog.Logger,
) (*Sweeper, error) {
	if coordinator == nil {
		return nil, errors.New("coordinator cannot be nil")
	}
	if ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultConfig().StartTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		coordinator: coordinator,
		ingestor:    ingestor,
		cfg:         cfg,
		logger:      logger.With("component", "timeout_sweeper"),
	}, nil
}

// Start schedules the sweep on its configured cadence.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)

	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("timeout sweeper started",
		"interval", s.cfg.Interval.String(),
		"start_timeout", s.cfg.StartTimeout.String())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("timeout sweeper stopped")
}

// Sweep performs one pass: every queued entry older than the start timeout
// gets a synthetic timeout event. Individual failures are logged and do not
// stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	queued, err := s.coordinator.QueuedEntries(ctx)
	if err != nil {
		s.logger.Error("sweep failed to list queued entries", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-s.cfg.StartTimeout)
	swept := 0
	for _, entry := range queued {
		if entry.SubmittedAt.After(cutoff) {
			continue
		}

		err := s.ingestor.HandleEvent(ctx, ingest.Event{
			Kind:      ingest.KindJobTimedOut,
			QueueID:   entry.ID,
			Reason:    fmt.Sprintf("no start event within %s", s.cfg.StartTimeout),
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Error("failed to sweep entry",
				"queue_id", entry.ID,
				"error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("swept orphaned entries", "count", swept)
	}
}
