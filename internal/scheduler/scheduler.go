package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/config"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/server"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// Scheduler polls the store for due schedules and hands them to the dispatcher
type Scheduler struct {
	store      store.Store
	dispatcher *Dispatcher
	config     *config.EngineConfig
	now        func() time.Time

	running  atomic.Bool // poll loop active
	inFlight atomic.Int64
	mu       sync.Mutex // held for the duration of one poll cycle
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // poll loop
	jobs     sync.WaitGroup // dispatched attempts
}

// NewScheduler creates a new scheduler instance
func NewScheduler(st store.Store, dispatcher *Dispatcher, cfg *config.EngineConfig) *Scheduler {
	return &Scheduler{
		store:      st,
		dispatcher: dispatcher,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
	}
}

// Start runs the recovery sweep and then begins periodic polling
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Info().Msg("Scheduler is disabled")
		return nil
	}

	if _, err := s.Recover(ctx); err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}

	s.running.Store(true)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.running.Store(false)

	s.executeCycle(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.config.PollInterval).Msg("Scheduler started periodic polling")

	for {
		select {
		case <-ticker.C:
			s.executeCycle(ctx)
		case <-s.stopCh:
			log.Info().Msg("Scheduler loop stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Scheduler context cancelled")
			return
		}
	}
}

// executeCycle runs a single poll with mutex protection.
// A trigger that arrives while a cycle is still running is skipped.
func (s *Scheduler) executeCycle(ctx context.Context) {
	if !s.mu.TryLock() {
		log.Warn().Msg("Poll cycle already running, skipping this trigger")
		return
	}
	defer s.mu.Unlock()

	startTime := time.Now()
	dispatched, err := s.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Poll cycle failed")
		server.RecordError("poll")
		return
	}

	if dispatched > 0 {
		log.Info().
			Int("dispatched", dispatched).
			Dur("duration", time.Since(startTime)).
			Msg("Poll cycle completed")
	}

	if counts, err := s.store.CountSchedulesByStatus(ctx); err == nil {
		server.UpdateScheduleCounts(counts)
	}
}

// RunOnce dispatches the oldest due pending schedule of every idle profile, each in
// its own goroutine, up to BatchSize profiles per cycle.
// It returns the number of schedules handed to the dispatcher.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.dueCandidates(ctx)
	if err != nil {
		return 0, err
	}

	for _, sch := range due {
		s.jobs.Add(1)
		s.inFlight.Add(1)
		go func(sch *model.Schedule) {
			defer s.jobs.Done()
			defer s.inFlight.Add(-1)
			s.dispatcher.Dispatch(ctx, sch)
		}(sch)
	}

	return len(due), nil
}

// dueCandidates picks at most one due schedule per profile, skipping profiles whose
// lock is held. Each page excludes the profiles already picked, so a backlog on one
// profile never hides due work of another.
func (s *Scheduler) dueCandidates(ctx context.Context) ([]*model.Schedule, error) {
	now := s.now()
	batch := s.config.BatchSize
	exclude := s.dispatcher.locks.Held()
	picked := make(map[uint]bool)

	var due []*model.Schedule
	for batch <= 0 || len(due) < batch {
		limit := 0
		if batch > 0 {
			limit = batch - len(due)
		}
		page, err := s.store.ListSchedules(ctx, store.ScheduleFilter{
			Statuses:        []model.ScheduleStatus{model.StatusPending},
			DueBefore:       &now,
			Limit:           limit,
			ExcludeProfiles: exclude,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list due schedules: %w", err)
		}

		for _, sch := range page {
			if picked[sch.ProfileID] {
				continue
			}
			picked[sch.ProfileID] = true
			exclude = append(exclude, sch.ProfileID)
			due = append(due, sch)
		}
		if limit == 0 || len(page) < limit {
			break
		}
	}
	return due, nil
}

// Wait blocks until every dispatched attempt has finished
func (s *Scheduler) Wait() {
	s.jobs.Wait()
}

// Stop stops polling and waits for in-flight attempts to finish
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.jobs.Wait()
	log.Info().Msg("Scheduler stopped")
}

// IsRunning returns true while the poll loop is active
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// InFlight returns the number of publish attempts currently executing
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}
