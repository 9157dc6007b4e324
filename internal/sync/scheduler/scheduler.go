// Package scheduler runs the sync engine on a cadence: periodic full
// syncs while online, periodic queue drains regardless.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/logging"
)

// Engine is the slice of the sync engine the scheduler drives.
type Engine interface {
	SyncWithCloud(ctx context.Context) error
	DrainQueue(ctx context.Context)
	IsOnline() bool
}

// Config holds scheduler cadence.
type Config struct {
	SyncInterval  time.Duration // full sync cadence while online
	QueueInterval time.Duration // queue drain cadence
}

// DefaultConfig returns the default cadence.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  15 * time.Minute,
		QueueInterval: time.Minute,
	}
}

// Scheduler triggers periodic syncs and queue drains in the
// background. The engine's own guard keeps overlapping triggers from
// running concurrently.
type Scheduler struct {
	engine        Engine
	log           *logrus.Entry
	syncInterval  time.Duration
	queueInterval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler. Zero config fields select the defaults.
func New(engine Engine, cfg Config, log *logrus.Logger) *Scheduler {
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}
	if cfg.QueueInterval == 0 {
		cfg.QueueInterval = DefaultConfig().QueueInterval
	}
	return &Scheduler{
		engine:        engine,
		log:           logging.Component(log, "scheduler"),
		syncInterval:  cfg.SyncInterval,
		queueInterval: cfg.QueueInterval,
	}
}

// Start launches the background loops. A second Start without an
// intervening Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.syncLoop(ctx)
	go s.queueLoop(ctx)
	s.log.WithFields(logrus.Fields{
		"sync_interval":  s.syncInterval,
		"queue_interval": s.queueInterval,
	}).Info("scheduler started")
}

// Stop halts the loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// TriggerSync requests an immediate sync outside the cadence.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	if !s.engine.IsOnline() {
		s.log.Debug("manual sync skipped while offline")
		return
	}
	if err := s.engine.SyncWithCloud(ctx); err != nil {
		s.log.WithError(err).Warn("manual sync failed")
	}
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.engine.IsOnline() {
				continue
			}
			if err := s.engine.SyncWithCloud(ctx); err != nil {
				s.log.WithError(err).Warn("periodic sync failed")
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) queueLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.engine.IsOnline() {
				continue
			}
			s.engine.DrainQueue(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
