package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/accountlock"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/publisher"
	"github.com/user/tiktok-scheduler-go/internal/server"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// finalizeTimeout bounds the store write that records an outcome
const finalizeTimeout = 30 * time.Second

// Result is what a single Dispatch call did with its schedule
type Result int

const (
	// ResultBusy means the profile was locked by another attempt
	ResultBusy Result = iota
	// ResultLost means the pending->uploading claim did not apply
	ResultLost
	// ResultCompleted means the attempt succeeded and was recorded
	ResultCompleted
	// ResultFailed means the attempt failed and was recorded
	ResultFailed
	// ResultStoreError means the outcome could not be written
	ResultStoreError
)

func (r Result) String() string {
	switch r {
	case ResultBusy:
		return "busy"
	case ResultLost:
		return "lost"
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	default:
		return "store_error"
	}
}

// PathResolver maps stored names to files on disk
type PathResolver interface {
	VideoPath(storedFilename string) string
	CookiesPath(cookiesFilename string) string
}

// Notifier receives the outcome of every finished attempt
type Notifier interface {
	NotifyOutcome(ctx context.Context, outcome model.PublishOutcome)
}

// Dispatcher claims one due schedule at a time and runs exactly one publish attempt for it
type Dispatcher struct {
	store     store.Store
	locks     *accountlock.Registry
	publisher publisher.Publisher
	paths     PathResolver
	notifier  Notifier
	timeout   time.Duration
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. notifier may be nil.
func NewDispatcher(
	st store.Store,
	locks *accountlock.Registry,
	pub publisher.Publisher,
	paths PathResolver,
	notifier Notifier,
	timeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		store:     st,
		locks:     locks,
		publisher: pub,
		paths:     paths,
		notifier:  notifier,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the full lifecycle of one due schedule.
// The profile lock is taken before the claim so a busy profile leaves the row pending.
// A timed-out attempt is recorded at the deadline, but the lock is kept until the
// publisher actually returns.
func (d *Dispatcher) Dispatch(ctx context.Context, sch *model.Schedule) Result {
	logger := log.With().Uint("scheduleID", sch.ID).Uint("profileID", sch.ProfileID).Logger()

	release, ok := d.locks.TryAcquire(sch.ProfileID)
	if !ok {
		logger.Debug().Msg("Profile busy, leaving schedule for the next cycle")
		server.RecordDispatchSkip("profile_busy")
		return ResultBusy
	}
	defer release()

	if err := d.store.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, store.TransitionFields{}); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			logger.Debug().Err(err).Msg("Schedule no longer pending, skipping")
			server.RecordDispatchSkip("claim_lost")
		} else {
			logger.Error().Err(err).Msg("Failed to claim schedule")
			server.RecordError("claim")
		}
		return ResultLost
	}

	// Once claimed the attempt runs to completion even if the engine is shutting down
	ctx = context.WithoutCancel(ctx)

	start := d.now()
	logger.Info().Time("scheduledTime", sch.ScheduledTime).Msg("Publishing schedule")

	var exited <-chan struct{}
	req, video, profile, pubErr := d.prepare(ctx, sch)
	if pubErr == nil {
		exited, pubErr = d.publish(ctx, req)
		defer awaitPublisher(logger, exited)
	}
	finished := d.now()

	outcome := model.PublishOutcome{
		ScheduleID:  sch.ID,
		VideoName:   video.OriginalFilename,
		ProfileName: profile.Name,
		Duration:    finished.Sub(start),
		FinishedAt:  finished,
	}

	writeCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	result := ResultCompleted
	if pubErr == nil {
		outcome.Status = model.StatusCompleted
		err := d.store.Transition(writeCtx, sch.ID, model.StatusUploading, model.StatusCompleted,
			store.TransitionFields{UploadedAt: finished})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record completed publish")
			server.RecordError("finalize")
			return ResultStoreError
		}
		logger.Info().Dur("duration", outcome.Duration).Msg("Schedule published")
	} else {
		result = ResultFailed
		outcome.Status = model.StatusFailed
		outcome.ErrorMessage = model.TruncateErrorMessage(pubErr.Error())
		err := d.store.Transition(writeCtx, sch.ID, model.StatusUploading, model.StatusFailed,
			store.TransitionFields{ErrorMessage: outcome.ErrorMessage})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record failed publish")
			server.RecordError("finalize")
			return ResultStoreError
		}
		logger.Warn().Err(pubErr).Dur("duration", outcome.Duration).Msg("Schedule failed")
	}

	server.RecordPublish(outcome.Status, outcome.Duration)

	if !stillRunning(exited) {
		release()
	}
	if d.notifier != nil {
		d.notifier.NotifyOutcome(writeCtx, outcome)
	}
	return result
}

// prepare loads the rows referenced by sch and builds the publish request
func (d *Dispatcher) prepare(ctx context.Context, sch *model.Schedule) (publisher.Request, model.Video, model.Profile, error) {
	var req publisher.Request

	video, err := d.store.GetVideo(ctx, sch.VideoID)
	if err != nil {
		return req, model.Video{}, model.Profile{}, &publisher.PublishError{Reason: "video unavailable", Err: err}
	}
	profile, err := d.store.GetProfile(ctx, sch.ProfileID)
	if err != nil {
		return req, *video, model.Profile{}, &publisher.PublishError{Reason: "profile unavailable", Err: err}
	}

	req = publisher.Request{
		ScheduleID:  sch.ID,
		VideoPath:   d.paths.VideoPath(video.StoredFilename),
		Caption:     sch.Caption,
		CookiesPath: d.paths.CookiesPath(profile.CookiesFilename),
		Proxy:       profile.Proxy,
	}
	return req, *video, *profile, nil
}

// publish calls the publisher once under the attempt ceiling.
// The returned channel is closed once the publisher goroutine has returned.
func (d *Dispatcher) publish(ctx context.Context, req publisher.Request) (<-chan struct{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Uint("scheduleID", req.ScheduleID).Msg("Publisher panicked")
				err = publisher.PanicError(r)
			}
			close(exited)
			done <- err
		}()
		err = d.publisher.Publish(attemptCtx, req)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return exited, publisher.TimeoutError(d.timeout)
		}
		return exited, err
	case <-attemptCtx.Done():
		return exited, publisher.TimeoutError(d.timeout)
	}
}

// stillRunning reports whether a publisher goroutine has not returned yet
func stillRunning(exited <-chan struct{}) bool {
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// awaitPublisher blocks until a publisher that outlived its deadline returns
func awaitPublisher(logger zerolog.Logger, exited <-chan struct{}) {
	if !stillRunning(exited) {
		return
	}
	logger.Warn().Msg("Publisher still running after timeout, holding profile lock until it returns")
	<-exited
	logger.Info().Msg("Timed out publisher returned, releasing profile lock")
}
