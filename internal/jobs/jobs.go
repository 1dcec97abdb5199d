package jobs

import (
	"context"
	"sync"
	"time"

	"medical-photo-sharing/internal/config"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"
)

// Task es una pasada de mantenimiento; devuelve cuántos ítems tocó.
type Task func(ctx context.Context) (int, error)

type Job struct {
	Name     string
	Interval time.Duration
	Run      Task
}

type Scheduler struct {
	jobs    []Job
	timeout time.Duration
	log     logger.Logger
	wg      sync.WaitGroup
}

func NewScheduler(timeout time.Duration, log logger.Logger, jobs ...Job) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		jobs:    jobs,
		timeout: timeout,
		log:     log.With(map[string]any{"module": "jobs"}),
	}
}

// Start lanza un ticker por job. Los jobs sin Run o con intervalo <= 0 se ignoran.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		if j.Run == nil || j.Interval <= 0 {
			s.log.Info("job disabled", map[string]any{"job": j.Name})
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait bloquea hasta que todos los loops terminan (ctx cancelado).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, j)
		}
	}
}

// RunOnce corre una pasada con timeout y registra el resultado.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) (int, error) {
	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := j.Run(tickCtx)
	metrics.JobRuns.WithLabelValues(j.Name, metrics.Result(err)).Inc()
	if err != nil {
		s.log.Error("job failed", map[string]any{"job": j.Name, "err": err})
		return n, err
	}
	if n > 0 {
		metrics.JobItems.WithLabelValues(j.Name).Add(float64(n))
		s.log.Info("job done", map[string]any{"job": j.Name, "items": n})
	}
	return n, nil
}

// Tasks son las pasadas que arma el composition root.
type Tasks struct {
	ExpireSessions  Task
	CleanupKeys     Task
	EndAccess       Task
	ExpiryReminders Task
	AnomalySweep    Task
	Compliance      Task
}

// FromConfig arma la lista de jobs con los intervalos configurados.
// Con Enabled=false devuelve nil.
func FromConfig(cfg config.JobsConfig, t Tasks) []Job {
	if !cfg.Enabled {
		return nil
	}
	return []Job{
		{Name: "expire_sessions", Interval: cfg.ExpireSessionsInterval, Run: t.ExpireSessions},
		{Name: "cleanup_keys", Interval: cfg.CleanupKeysInterval, Run: t.CleanupKeys},
		{Name: "end_access_sessions", Interval: cfg.EndAccessInterval, Run: t.EndAccess},
		{Name: "expiry_reminders", Interval: cfg.ExpiryRemindersInterval, Run: t.ExpiryReminders},
		{Name: "anomaly_sweep", Interval: cfg.AnomalySweepInterval, Run: t.AnomalySweep},
		{Name: "compliance_report", Interval: cfg.ComplianceInterval, Run: t.Compliance},
	}
}
