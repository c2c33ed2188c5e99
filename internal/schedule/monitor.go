// Package schedule runs periodic jobs on a cron scheduler.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tokentrust/internal/services"
)

const DefaultMonitorSpec = "@every 1m"

// Monitor is satisfied by *services.Pipeline.
type Monitor interface {
	MonitorOpenTrades(ctx context.Context) (*services.MonitorReport, error)
}

// MonitorJob sweeps open trades. Overlapping runs are skipped.
type MonitorJob struct {
	monitor Monitor
	timeout time.Duration

	mu      sync.Mutex
	running bool
	last    *services.MonitorReport
}

// NewMonitorJob bounds each sweep by timeout; zero means no bound.
func NewMonitorJob(monitor Monitor, timeout time.Duration) *MonitorJob {
	return &MonitorJob{monitor: monitor, timeout: timeout}
}

// RunOnce performs a single sweep. It reports false when a previous sweep is
// still in progress.
func (j *MonitorJob) RunOnce(ctx context.Context) (*services.MonitorReport, bool, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		log.Warn("previous monitor sweep still running, skipping")
		return nil, false, nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	start := time.Now()
	report, err := j.monitor.MonitorOpenTrades(ctx)
	if err != nil {
		log.WithError(err).Error("monitor sweep failed")
		return nil, true, err
	}
	if report == nil {
		report = &services.MonitorReport{}
	}
	j.mu.Lock()
	j.last = report
	j.mu.Unlock()
	log.WithFields(log.Fields{
		"tokens":   report.Tokens,
		"sold":     report.Sold,
		"closed":   report.Closed,
		"errors":   report.Errors,
		"duration": time.Since(start),
	}).Info("monitor sweep finished")
	return report, true, nil
}

// LastReport returns the most recent successful sweep, or nil.
func (j *MonitorJob) LastReport() *services.MonitorReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Start registers the job under spec and starts the scheduler. Jobs run with
// ctx; callers stop the scheduler with Stop and wait on the returned context.
func Start(ctx context.Context, spec string, job *MonitorJob) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultMonitorSpec
	}
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cron.PrintfLogger(log.StandardLogger())))
	if _, err := c.AddFunc(spec, func() {
		_, _, _ = job.RunOnce(ctx)
	}); err != nil {
		return nil, err
	}
	c.Start()
	log.WithField("spec", spec).Info("monitor schedule started")
	return c, nil
}
