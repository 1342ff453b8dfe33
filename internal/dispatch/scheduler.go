package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/sqs"
)

// Runner is the dispatcher surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
	RunFrom(ctx context.Context, runDate time.Time, startChunk int) (Summary, error)
}

// Consumer receives continuation messages for partially delivered runs.
type Consumer interface {
	ReceiveMessage(ctx context.Context) (*sqs.Continuation, string, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// Scheduler triggers dispatch runs on a fixed interval and resumes
// handed-off runs from the continuation queue.
type Scheduler struct {
	runner   Runner
	consumer Consumer
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. interval <= 0 disables the periodic
// trigger (an external scheduler drives runs over HTTP instead); consumer
// may be nil when no continuation queue is configured.
func NewScheduler(runner Runner, consumer Consumer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		consumer: consumer,
		interval: interval,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.consumer != nil {
		go s.consumeContinuations(ctx)
	}

	if s.interval <= 0 {
		s.logger.Info("periodic dispatch disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			summary, err := s.runner.Run(ctx)
			if err != nil {
				s.logger.Error("dispatch run failed", zap.Error(err))
				continue
			}
			s.logSummary(summary)
		}
	}
}

func (s *Scheduler) consumeContinuations(ctx context.Context) {
	for ctx.Err() == nil {
		cont, handle, err := s.consumer.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// An undecodable message comes back with its receipt handle.
			// Drop it, otherwise it redelivers forever.
			if handle != "" {
				s.logger.Error("dropping undecodable continuation", zap.Error(err))
				if delErr := s.consumer.DeleteMessage(ctx, handle); delErr != nil {
					s.logger.Error("failed to delete continuation", zap.Error(delErr))
				}
				continue
			}
			s.logger.Error("failed to receive continuation", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if cont == nil {
			// long poll timed out with nothing queued
			continue
		}

		runDate, err := time.Parse(dateLayout, cont.RunDate)
		if err != nil {
			s.logger.Error("dropping continuation with bad run date",
				zap.String("run_date", cont.RunDate),
				zap.Error(err),
			)
			if delErr := s.consumer.DeleteMessage(ctx, handle); delErr != nil {
				s.logger.Error("failed to delete continuation", zap.Error(delErr))
			}
			continue
		}

		summary, err := s.runner.RunFrom(ctx, runDate, cont.NextChunk)
		if err != nil {
			// leave the message for redelivery after the visibility timeout
			s.logger.Error("continuation run failed",
				zap.Error(err),
				zap.String("run_date", cont.RunDate),
				zap.Int("next_chunk", cont.NextChunk),
			)
			continue
		}

		if err := s.consumer.DeleteMessage(ctx, handle); err != nil {
			s.logger.Error("failed to delete continuation", zap.Error(err))
		}
		s.logSummary(summary)
	}
}

func (s *Scheduler) logSummary(summary Summary) {
	s.logger.Info("dispatch run finished",
		zap.String("outcome", summary.Outcome),
		zap.String("run_date", summary.RunDate.Format(dateLayout)),
		zap.Int("products", summary.ProductsSelected),
		zap.Int("batches", summary.Batches),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("next_chunk", summary.NextChunk),
	)
}
