// Package dispatch delivers expiry reminder email. A run selects the
// products whose reminder date has arrived, groups them by urgency, and
// fans the grouped digest out to every user in the directory, recording
// one notification row per delivery attempt.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/expiry"
	"github.com/samuelleonard/expiro/internal/mail"
	"github.com/samuelleonard/expiro/internal/metrics"
	"github.com/samuelleonard/expiro/internal/sqs"
)

const dateLayout = "2006-01-02"

// Run outcomes.
const (
	// OutcomeCompleted means the invocation finished its share of the run.
	// NextChunk > 0 on the summary means the remainder was handed to the
	// continuation queue.
	OutcomeCompleted = "completed"
	// OutcomeRateLimited means the daily email budget was exhausted, either
	// before anything was sent or partway through the run.
	OutcomeRateLimited = "rate_limited"
	// OutcomeNothingDue means no product's reminder date matched the run date.
	OutcomeNothingDue = "nothing_due"
)

// Repository is the subset of the store the dispatcher needs.
type Repository interface {
	ListProductsDueOn(ctx context.Context, day time.Time) ([]*db.Product, error)
	CountSentNotifications(ctx context.Context, day time.Time) (int, error)
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// Directory lists the users reminder mail is addressed to.
type Directory interface {
	ListUsers(ctx context.Context) ([]*db.User, error)
}

// Queue schedules a delayed re-invocation for the chunks one run could
// not deliver.
type Queue interface {
	Enqueue(ctx context.Context, cont sqs.Continuation, delay time.Duration) (string, error)
}

// Config tunes a dispatcher.
type Config struct {
	// DailyCap bounds delivery attempts per calendar day. The count is
	// taken from sent notification rows at the start of each invocation,
	// so overlapping runs may jointly overshoot. Soft cap.
	DailyCap int
	// ChunkSize is how many products go into one digest message.
	ChunkSize int
	// BatchDelay is the pause between chunks within one invocation.
	BatchDelay time.Duration
	// MaxBatchesPerRun caps chunks per invocation when a continuation
	// queue is configured. Without a queue the cap is ignored and the
	// run delivers everything with BatchDelay pauses.
	MaxBatchesPerRun int
	// ContinuationDelay is the SQS delivery delay for handed-off chunks.
	ContinuationDelay time.Duration
}

// Summary reports what one invocation did.
type Summary struct {
	Outcome          string    `json:"outcome"`
	RunDate          time.Time `json:"run_date"`
	ProductsSelected int       `json:"products_selected"`
	Batches          int       `json:"batches"`
	Recipients       int       `json:"recipients"`
	Sent             int       `json:"sent"`
	Failed           int       `json:"failed"`
	// NextChunk is the cursor handed to the continuation queue, 0 when
	// the run finished in this invocation.
	NextChunk int `json:"next_chunk,omitempty"`
}

// Dispatcher runs reminder deliveries.
type Dispatcher struct {
	repo      Repository
	directory Directory
	sender    mail.Sender
	queue     Queue
	policy    expiry.Policy
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a dispatcher. queue may be nil when no continuation queue
// is configured.
func New(repo Repository, directory Directory, sender mail.Sender, queue Queue, policy expiry.Policy, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.DailyCap == 0 {
		cfg.DailyCap = 95
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 30
	}
	if cfg.MaxBatchesPerRun == 0 {
		cfg.MaxBatchesPerRun = 10
	}
	if cfg.ContinuationDelay == 0 {
		cfg.ContinuationDelay = 30 * time.Second
	}

	return &Dispatcher{
		repo:      repo,
		directory: directory,
		sender:    sender,
		queue:     queue,
		policy:    policy,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the dispatcher's clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run executes a full dispatch run for the current day.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	return d.RunFrom(ctx, d.now(), 0)
}

// RunFrom executes a run for the given day starting at the given chunk
// index. Continuation messages resume here so a run that crosses midnight
// still finishes the day it started on.
func (d *Dispatcher) RunFrom(ctx context.Context, runDate time.Time, startChunk int) (Summary, error) {
	today := expiry.Day(runDate)
	summary := Summary{Outcome: OutcomeCompleted, RunDate: today}

	sentToday, err := d.repo.CountSentNotifications(ctx, today)
	if err != nil {
		return summary, fmt.Errorf("rate check failed: %w", err)
	}
	budget := d.config.DailyCap - sentToday
	if budget <= 0 {
		d.logger.Warn("daily email cap reached, skipping run",
			zap.Int("sent_today", sentToday),
			zap.Int("cap", d.config.DailyCap),
		)
		summary.Outcome = OutcomeRateLimited
		return summary, nil
	}

	products, err := d.repo.ListProductsDueOn(ctx, today)
	if err != nil {
		return summary, fmt.Errorf("failed to select due products: %w", err)
	}
	summary.ProductsSelected = len(products)
	if len(products) == 0 {
		summary.Outcome = OutcomeNothingDue
		return summary, nil
	}

	users, err := d.directory.ListUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("directory fetch failed: %w", err)
	}
	summary.Recipients = len(users)
	if len(users) == 0 {
		d.logger.Warn("no recipients in directory, nothing to deliver")
		return summary, nil
	}

	chunks := chunkProducts(products, d.config.ChunkSize)

	d.logger.Info("dispatch run starting",
		zap.String("run_date", today.Format(dateLayout)),
		zap.Int("products", len(products)),
		zap.Int("chunks", len(chunks)),
		zap.Int("start_chunk", startChunk),
		zap.Int("recipients", len(users)),
		zap.Int("budget", budget),
	)

	for i := startChunk; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if d.queue != nil && summary.Batches >= d.config.MaxBatchesPerRun {
			if err := d.continueLater(ctx, today, i); err != nil {
				return summary, err
			}
			summary.NextChunk = i
			return summary, nil
		}

		if summary.Batches > 0 && d.config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(d.config.BatchDelay):
			}
		}

		var truncated bool
		budget, truncated = d.deliverChunk(ctx, chunks[i], users, today, budget, &summary)
		summary.Batches++

		if truncated || (budget <= 0 && i < len(chunks)-1) {
			d.logger.Warn("daily email budget exhausted mid-run",
				zap.Int("sent", summary.Sent),
				zap.Int("failed", summary.Failed),
			)
			summary.Outcome = OutcomeRateLimited
			return summary, nil
		}
	}

	d.logger.Info("dispatch run finished",
		zap.String("run_date", today.Format(dateLayout)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}

// deliverChunk sends one digest to each recipient and records the attempt.
// Returns the remaining budget and whether recipients were skipped because
// the budget ran out. A single recipient failure is recorded and does not
// stop the run.
func (d *Dispatcher) deliverChunk(ctx context.Context, chunk []*db.Product, users []*db.User, today time.Time, budget int, summary *Summary) (int, bool) {
	for _, u := range users {
		if budget <= 0 {
			return budget, true
		}
		if u.Email == "" {
			continue
		}

		msg, err := renderEmail(u, chunk, today)
		if err != nil {
			d.logger.Error("failed to render reminder email",
				zap.Error(err),
				zap.String("user_id", u.ID.String()),
			)
			d.record(ctx, u.ID, len(chunk), err)
			summary.Failed++
			budget--
			continue
		}

		err = d.sender.Send(ctx, msg)
		budget--
		if err != nil {
			d.logger.Error("failed to deliver reminder email",
				zap.Error(err),
				zap.String("user_id", u.ID.String()),
				zap.String("sender", d.sender.Name()),
			)
			d.record(ctx, u.ID, len(chunk), err)
			summary.Failed++
			continue
		}

		d.record(ctx, u.ID, len(chunk), nil)
		summary.Sent++
	}

	return budget, false
}

// record appends one notification row for a delivery attempt. The row is
// audit data; a write failure is logged but never fails the run.
func (d *Dispatcher) record(ctx context.Context, userID uuid.UUID, productsCount int, sendErr error) {
	n := &db.Notification{
		ID:            uuid.New(),
		UserID:        userID,
		Channel:       db.ChannelEmail,
		Status:        db.NotificationSent,
		ProductsCount: productsCount,
	}
	if sendErr != nil {
		n.Status = db.NotificationFailed
		msg := sendErr.Error()
		n.ErrorMessage = &msg
	}
	metrics.RecordReminderDelivered(n.Status)

	if err := d.repo.CreateNotification(ctx, n); err != nil {
		d.logger.Error("failed to record notification",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("status", n.Status),
		)
	}
}

func (d *Dispatcher) continueLater(ctx context.Context, today time.Time, nextChunk int) error {
	cont := sqs.Continuation{
		RunDate:   today.Format(dateLayout),
		NextChunk: nextChunk,
	}
	if _, err := d.queue.Enqueue(ctx, cont, d.config.ContinuationDelay); err != nil {
		return fmt.Errorf("failed to enqueue continuation: %w", err)
	}
	return nil
}

func chunkProducts(products []*db.Product, size int) [][]*db.Product {
	if size <= 0 {
		return [][]*db.Product{products}
	}
	chunks := make([][]*db.Product, 0, (len(products)+size-1)/size)
	for start := 0; start < len(products); start += size {
		end := start + size
		if end > len(products) {
			end = len(products)
		}
		chunks = append(chunks, products[start:end])
	}
	return chunks
}
