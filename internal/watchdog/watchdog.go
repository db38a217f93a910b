// Package watchdog periodically sweeps the scheduling core for Jobs
// whose clients stopped acknowledging.
package watchdog

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// Config bundles the Watchdog's tunables.
type Config struct {
	// Interval between sweeps. Default 30s.
	Interval time.Duration

	// StuckGrace is added to a running Job's configured duration
	// before the watchdog considers it stuck (protects against
	// terminating a Job whose clients are simply slow to report).
	StuckGrace time.Duration
}

// Watchdog runs Config.Interval sweeps on a dedicated robfig/cron
// "@every" entry.
type Watchdog struct {
	cfg       Config
	scheduler interfaces.Scheduler
	logger    arbor.ILogger
	cron      *cron.Cron
}

// New wires a Watchdog. Call Start to begin sweeping.
func New(cfg Config, scheduler interfaces.Scheduler, logger arbor.ILogger) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StuckGrace <= 0 {
		cfg.StuckGrace = time.Minute
	}
	return &Watchdog{
		cfg:       cfg,
		scheduler: scheduler,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the sweep on an "@every <interval>" cron entry and
// starts the underlying scheduler.
func (w *Watchdog) Start() error {
	spec := fmt.Sprintf("@every %s", w.cfg.Interval)
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		return fmt.Errorf("watchdog: register sweep: %w", err)
	}
	w.cron.Start()
	w.logger.Info().Str("interval", w.cfg.Interval.String()).Msg("watchdog: started")
	return nil
}

// Stop halts the sweep and waits for any in-flight run to finish.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info().Msg("watchdog: stopped")
}

// Sweep runs one pass immediately; exported so tests and the Watchdog
// itself can drive a deterministic sweep without waiting on cron.
func (w *Watchdog) Sweep() {
	w.sweep()
}

func (w *Watchdog) sweep() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("watchdog: recovered from panic in sweep")
		}
	}()
	w.reapStuckJobs()
}

// reapStuckJobs force-fails running Jobs whose client acknowledgements
// never arrived: past their configured duration plus StuckGrace with
// no settlement, the Job is settled StoppedDueToError rather than left
// waiting on clients that have stopped talking.
func (w *Watchdog) reapStuckJobs() {
	jobs, err := w.scheduler.List("")
	if err != nil {
		w.logger.Warn().Err(err).Msg("watchdog: list jobs failed")
		return
	}

	now := w.scheduler.Now()
	for _, job := range jobs {
		if job.State != models.JobStateRunning || !job.HasDuration() || job.ActualStartTime == nil {
			continue
		}
		deadline := job.ActualStartTime.Add(job.Duration()).Add(w.cfg.StuckGrace)
		if now.Before(deadline) {
			continue
		}
		w.logger.Warn().Str("job_id", job.ID).Msg("watchdog: job exceeded duration with no client acknowledgement, terminating")
		if err := w.scheduler.Fail(job.ID, "watchdog: stuck past duration and grace period"); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("watchdog: fail failed")
		}
	}
}
