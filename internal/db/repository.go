package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository handles database operations for products, notifications and
// the user directory.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateProduct inserts a new product
func (r *Repository) CreateProduct(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (
			id, name, expiry_date, reminder_date, quantity,
			category, photo_url, status, added_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		p.ID,
		p.Name,
		p.ExpiryDate,
		p.ReminderDate,
		p.Quantity,
		p.Category,
		p.PhotoURL,
		p.Status,
		p.AddedBy,
	).Scan(&p.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create product",
			zap.Error(err),
			zap.String("product_id", p.ID.String()),
		)
		return fmt.Errorf("insert product: %w", err)
	}

	r.logger.Info("product created",
		zap.String("product_id", p.ID.String()),
		zap.String("name", p.Name),
		zap.String("status", p.Status),
		zap.Time("expiry_date", p.ExpiryDate),
	)

	return nil
}

// ProductExists reports whether an identical product record is already
// present for the owner: exact match on trimmed name, expiry date, owner.
func (r *Repository) ProductExists(ctx context.Context, name string, expiryDate time.Time, owner uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM products
			WHERE name = $1 AND expiry_date = $2 AND added_by = $3
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query, name, expiryDate, owner).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate product: %w", err)
	}

	return exists, nil
}

// ListProductsByOwner returns the owner's products ascending by expiry date.
func (r *Repository) ListProductsByOwner(ctx context.Context, owner uuid.UUID) ([]*Product, error) {
	query := `
		SELECT
			id, name, expiry_date, reminder_date, quantity,
			category, photo_url, status, added_by, created_at
		FROM products
		WHERE added_by = $1
		ORDER BY expiry_date ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var p Product
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.ExpiryDate,
			&p.ReminderDate,
			&p.Quantity,
			&p.Category,
			&p.PhotoURL,
			&p.Status,
			&p.AddedBy,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return products, nil
}

// DeleteProduct removes a product owned by the caller. Deleting a row that
// is already gone is not an error.
func (r *Repository) DeleteProduct(ctx context.Context, id, owner uuid.UUID) error {
	query := `DELETE FROM products WHERE id = $1 AND added_by = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, owner)
	if err != nil {
		r.logger.Error("failed to delete product",
			zap.Error(err),
			zap.String("product_id", id.String()),
		)
		return fmt.Errorf("delete product: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Debug("delete matched no rows",
			zap.String("product_id", id.String()),
		)
	}

	return nil
}

// ListProductsDueOn returns every product whose reminder date falls on the
// given day, ascending by expiry date. Used by the dispatcher's select step.
func (r *Repository) ListProductsDueOn(ctx context.Context, day time.Time) ([]*Product, error) {
	query := `
		SELECT
			id, name, expiry_date, reminder_date, quantity,
			category, photo_url, status, added_by, created_at
		FROM products
		WHERE reminder_date = $1
		ORDER BY expiry_date ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("query due products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var p Product
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.ExpiryDate,
			&p.ReminderDate,
			&p.Quantity,
			&p.Category,
			&p.PhotoURL,
			&p.Status,
			&p.AddedBy,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return products, nil
}

// CountSentNotifications counts successfully sent notifications since the
// start of the given day. Only "sent" rows count toward the daily cap;
// failed attempts are audited but do not consume budget.
func (r *Repository) CountSentNotifications(ctx context.Context, day time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE channel = $1 AND status = $2 AND sent_at >= $3
	`

	var count int
	err := r.db.Pool().QueryRow(ctx, query, ChannelEmail, NotificationSent, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sent notifications: %w", err)
	}

	return count, nil
}

// CreateNotification appends one delivery-attempt record.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, channel, status, products_count, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sent_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.UserID,
		n.Channel,
		n.Status,
		n.ProductsCount,
		n.ErrorMessage,
	).Scan(&n.SentAt)

	if err != nil {
		r.logger.Error("failed to record notification",
			zap.Error(err),
			zap.String("user_id", n.UserID.String()),
			zap.String("status", n.Status),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// ListNotificationsByUser returns the user's delivery records, newest first.
func (r *Repository) ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	query := `
		SELECT id, user_id, channel, status, products_count, error_message, sent_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Channel,
			&n.Status,
			&n.ProductsCount,
			&n.ErrorMessage,
			&n.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// ListUsers returns every directory entry with a usable email address.
func (r *Repository) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, display_name, created_at
		FROM users
		WHERE email <> ''
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}
