package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/auth"
	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/dispatch"
	"github.com/samuelleonard/expiro/internal/metrics"
	"github.com/samuelleonard/expiro/internal/product"
	"github.com/samuelleonard/expiro/internal/redis"
)

// ProductService defines the product operations the API exposes.
type ProductService interface {
	Create(ctx context.Context, identity *auth.Identity, in product.CreateInput) (*db.Product, string, error)
	List(ctx context.Context, identity *auth.Identity) ([]*db.Product, error)
	Delete(ctx context.Context, identity *auth.Identity, id uuid.UUID) error
	Notifications(ctx context.Context, identity *auth.Identity) ([]*db.Notification, error)
}

// DispatchRunner triggers a reminder dispatch run.
type DispatchRunner interface {
	Run(ctx context.Context) (dispatch.Summary, error)
}

// CreateProductRequest represents the incoming request body
type CreateProductRequest struct {
	Name       string `json:"name"`
	ExpiryDate string `json:"expiry_date"`
	Quantity   int    `json:"quantity,omitempty"`
	Category   string `json:"category,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
}

// ProductResponse is returned after creating a product
type ProductResponse struct {
	Product *db.Product `json:"product"`
	Warning string      `json:"warning,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	products    ProductService
	dispatcher  DispatchRunner
	idempotency *redis.IdempotencyService // nil if Redis not configured
	cronSecret  string
}

// NewHandler creates a new API handler. idempotency may be nil when Redis
// is not configured; dispatcher may be nil when dispatch runs are driven
// by the in-process scheduler only.
func NewHandler(logger *zap.Logger, products ProductService, dispatcher DispatchRunner, idempotency *redis.IdempotencyService, cronSecret string) *Handler {
	return &Handler{
		logger:      logger,
		products:    products,
		dispatcher:  dispatcher,
		idempotency: idempotency,
		cronSecret:  cronSecret,
	}
}

// CreateProduct handles POST /v1/products
// Supports idempotency via the Idempotency-Key header so offline clients
// can retry safely.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil && identity != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, identity.UserID.String(), idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":      cached.ProductID,
				"warning": cached.Warning,
			})
			return
		}
	}

	p, warning, err := h.products.Create(ctx, identity, product.CreateInput{
		Name:       req.Name,
		ExpiryDate: req.ExpiryDate,
		Quantity:   req.Quantity,
		Category:   req.Category,
		PhotoURL:   req.PhotoURL,
	})
	if err != nil {
		h.releaseReservation(ctx, identity, idempotencyKey)
		h.writeServiceError(w, err)
		return
	}

	metrics.RecordProductCreated()
	h.logger.Info("product created",
		zap.String("id", p.ID.String()),
		zap.String("status", p.Status),
		zap.String("added_by", p.AddedBy.String()),
	)

	if idempotencyKey != "" && h.idempotency != nil && identity != nil {
		result := &redis.IdempotencyResult{
			ProductID:  p.ID.String(),
			StatusCode: http.StatusCreated,
			Warning:    warning,
		}
		if err := h.idempotency.Store(ctx, identity.UserID.String(), idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ProductResponse{Product: p, Warning: warning})
}

// ListProducts handles GET /v1/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)

	products, err := h.products.List(ctx, identity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  products,
		"count": len(products),
	})
}

// DeleteProduct handles DELETE /v1/products/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid product ID", "ID must be a valid UUID")
		return
	}

	if err := h.products.Delete(ctx, identity, id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications handles GET /v1/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)

	notifications, err := h.products.Notifications(ctx, identity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  notifications,
		"count": len(notifications),
	})
}

// RunDispatch handles POST /v1/dispatch/run. The endpoint is for an
// external scheduler and is guarded by a shared secret header rather
// than a user session.
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cronSecret == "" || r.Header.Get("X-Cron-Secret") != h.cronSecret {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid cron secret", "")
		return
	}
	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "dispatch_unavailable", "Dispatcher not configured", "")
		return
	}

	start := time.Now()
	summary, err := h.dispatcher.Run(ctx)
	if err != nil {
		h.logger.Error("dispatch run failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Dispatch run failed", "")
		return
	}
	metrics.RecordDispatchRun(summary.Outcome, time.Since(start))

	status := http.StatusOK
	if summary.Outcome == dispatch.OutcomeRateLimited {
		status = http.StatusTooManyRequests
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(summary)
}

func (h *Handler) releaseReservation(ctx context.Context, identity *auth.Identity, idempotencyKey string) {
	if idempotencyKey == "" || h.idempotency == nil || identity == nil {
		return
	}
	if err := h.idempotency.Release(ctx, identity.UserID.String(), idempotencyKey); err != nil {
		h.logger.Warn("failed to release idempotency reservation", zap.Error(err))
	}
}

// writeServiceError maps service errors onto the problem+json envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *product.ValidationError
	var dErr *product.DuplicateError

	switch {
	case errors.As(err, &vErr):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", vErr.Error())
	case errors.As(err, &dErr):
		metrics.RecordDuplicateRejected()
		h.writeError(w, http.StatusConflict, "duplicate_product", "Product already tracked", dErr.Error())
	case errors.Is(err, product.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
	case errors.Is(err, product.ErrUnavailable):
		h.logger.Error("service unavailable", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable", "")
	default:
		h.logger.Error("unexpected service error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
