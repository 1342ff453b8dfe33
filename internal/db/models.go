package db

import (
	"time"

	"github.com/google/uuid"
)

// Product is a tracked item with its derived reminder schedule. The status
// column is a cache of the classifier output; expiry_date is the source of
// truth and status can be recomputed from it at any time.
type Product struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	ExpiryDate   time.Time `json:"expiry_date"`
	ReminderDate time.Time `json:"reminder_date"`
	Quantity     int       `json:"quantity"`
	Category     *string   `json:"category,omitempty"`
	PhotoURL     *string   `json:"photo_url,omitempty"`
	Status       string    `json:"status"`
	AddedBy      uuid.UUID `json:"added_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification is one delivery attempt to one recipient. Rows are append-only:
// they serve as the audit log and as the input to the daily rate-limit count.
type Notification struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	ProductsCount int       `json:"products_count"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// User mirrors the external identity provider's directory: who to address
// reminder mail to.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification status constants
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Channel constants
const (
	ChannelEmail = "email"
)
