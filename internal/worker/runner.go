package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/telemetry"
)

// JobQueue is the run-queue surface the daemon consumes.
type JobQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
}

// JobProcessor runs one queued job to completion, pause, or failure.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Runner is the orchestration daemon loop: it leases job IDs off the run
// queue, drives them through the processor, and recovers runs whose owner
// died before acking.
type Runner struct {
	queue        JobQueue
	processor    JobProcessor
	pollInterval time.Duration
	leaseTimeout time.Duration
	log          zerolog.Logger
}

func NewRunner(queue JobQueue, processor JobProcessor, pollInterval, leaseTimeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		queue:        queue,
		processor:    processor,
		pollInterval: pollInterval,
		leaseTimeout: leaseTimeout,
		log:          log.With().Str("component", "worker").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		r.recoverExpired(ctx)
		r.updateDepth(ctx)

		// Drain the queue before going back to sleep.
		for {
			jobID, err := r.queue.DequeueWithLease(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.log.Error().Err(err).Msg("dequeue failed")
				}
				break
			}
			if jobID == "" {
				break
			}
			r.runOne(ctx, jobID)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (r *Runner) runOne(ctx context.Context, jobID string) {
	log := r.log.With().Str("job_id", jobID).Logger()
	log.Info().Msg("job leased")

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		r.heartbeat(heartbeatCtx, jobID)
	}()

	err := r.processor.ProcessJob(ctx, jobID)
	stopHeartbeat()
	<-heartbeatDone

	if err != nil {
		// Job-level failure is already persisted by the processor; the run
		// is done either way, so ack unless we were cancelled mid-flight.
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("shutdown while processing, leaving lease for recovery")
			return
		}
		log.Error().Err(err).Msg("job processing failed")
	}
	if ackErr := r.queue.Ack(ctx, jobID); ackErr != nil {
		log.Error().Err(ackErr).Msg("ack failed, run will be recovered on lease expiry")
		return
	}
	log.Info().Msg("job run acked")
}

// heartbeat extends the lease while a job is being processed so slow jobs
// are not stolen by another worker.
func (r *Runner) heartbeat(ctx context.Context, jobID string) {
	interval := r.leaseTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.queue.ExtendLease(ctx, jobID, r.leaseTimeout); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Str("job_id", jobID).Msg("extend lease failed")
			}
		}
	}
}

func (r *Runner) recoverExpired(ctx context.Context) {
	requeued, err := r.queue.RequeueExpired(ctx, time.Now(), 100)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("requeue expired leases failed")
		}
		return
	}
	for _, jobID := range requeued {
		r.log.Warn().Str("job_id", jobID).Msg("expired lease requeued")
	}
}

func (r *Runner) updateDepth(ctx context.Context) {
	depth, err := r.queue.Depth(ctx)
	if err != nil {
		return
	}
	telemetry.RunQueueDepth.Set(float64(depth))
}
