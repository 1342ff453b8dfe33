// Package product owns the product lifecycle: validated creation with the
// duplicate guard, owner-scoped listing, and idempotent deletion. All derived
// fields (reminder date, status) come from the expiry policy at create time.
package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/auth"
	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/expiry"
)

// DateLayout is the wire format for calendar dates: no time component.
const DateLayout = "2006-01-02"

const notificationHistoryLimit = 50

// Repository is the persistence surface the service needs.
type Repository interface {
	CreateProduct(ctx context.Context, p *db.Product) error
	ProductExists(ctx context.Context, name string, expiryDate time.Time, owner uuid.UUID) (bool, error)
	ListProductsByOwner(ctx context.Context, owner uuid.UUID) ([]*db.Product, error)
	DeleteProduct(ctx context.Context, id, owner uuid.UUID) error
	ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*db.Notification, error)
}

// CreateInput carries the user-supplied fields for a new product.
type CreateInput struct {
	Name       string
	ExpiryDate string // DateLayout
	Quantity   int    // 0 means default of 1
	Category   string
	PhotoURL   string
}

// Service orchestrates product operations. Dependencies are explicit; there
// is no ambient session or client state.
type Service struct {
	repo   Repository
	policy expiry.Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a product service around a repository and policy.
func NewService(repo Repository, policy expiry.Policy, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the evaluation clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the input, runs the duplicate guard, computes the derived
// reminder date and status, and persists the product. When the product is
// already expired at creation time the returned warning is non-empty so the
// caller can alert the user immediately; this is advisory, not an error.
func (s *Service) Create(ctx context.Context, identity *auth.Identity, in CreateInput) (*db.Product, string, error) {
	if identity == nil {
		return nil, "", ErrUnauthenticated
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	expiryDate, err := time.ParseInLocation(DateLayout, in.ExpiryDate, time.UTC)
	if err != nil {
		return nil, "", &ValidationError{Field: "expiry_date", Reason: fmt.Sprintf("%q is not a valid date (want YYYY-MM-DD)", in.ExpiryDate)}
	}

	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, "", &ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}

	exists, err := s.repo.ProductExists(ctx, name, expiryDate, identity.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists {
		return nil, "", &DuplicateError{Name: name, ExpiryDate: expiryDate}
	}

	today := s.now()
	status := s.policy.Classify(expiryDate, today)
	reminderDate := s.policy.ReminderDate(expiryDate, today)

	var warning string
	if status == expiry.StatusExpired {
		daysAgo := -expiry.DaysUntil(expiryDate, today)
		warning = fmt.Sprintf("this product already expired %d day(s) ago; an immediate alert will be sent", daysAgo)
	}

	p := &db.Product{
		ID:           uuid.New(),
		Name:         name,
		ExpiryDate:   expiry.Day(expiryDate),
		ReminderDate: reminderDate,
		Quantity:     quantity,
		Status:       string(status),
		AddedBy:      identity.UserID,
	}
	if category := strings.TrimSpace(in.Category); category != "" {
		p.Category = &category
	}
	if in.PhotoURL != "" {
		p.PhotoURL = &in.PhotoURL
	}

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Info("product added",
		zap.String("product_id", p.ID.String()),
		zap.String("status", p.Status),
		zap.String("owner", identity.UserID.String()),
		zap.Bool("already_expired", warning != ""),
	)

	return p, warning, nil
}

// List returns the caller's products ascending by expiry date.
func (s *Service) List(ctx context.Context, identity *auth.Identity) ([]*db.Product, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}

	products, err := s.repo.ListProductsByOwner(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return products, nil
}

// Delete removes one of the caller's products. Deleting an id that does not
// exist (or was already deleted) succeeds: the end state is the same.
func (s *Service) Delete(ctx context.Context, identity *auth.Identity, id uuid.UUID) error {
	if identity == nil {
		return ErrUnauthenticated
	}

	if err := s.repo.DeleteProduct(ctx, id, identity.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Info("product deleted",
		zap.String("product_id", id.String()),
		zap.String("owner", identity.UserID.String()),
	)

	return nil
}

// Notifications returns the caller's delivery audit records, newest first.
func (s *Service) Notifications(ctx context.Context, identity *auth.Identity) ([]*db.Notification, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}

	records, err := s.repo.ListNotificationsByUser(ctx, identity.UserID, notificationHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return records, nil
}
