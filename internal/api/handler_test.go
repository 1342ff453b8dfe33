package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/auth"
	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/dispatch"
	"github.com/samuelleonard/expiro/internal/product"
)

type mockProductService struct {
	created       *db.Product
	warning       string
	createErr     error
	listResult    []*db.Product
	listErr       error
	deleteErr     error
	deletedID     uuid.UUID
	notifications []*db.Notification
	notifErr      error
}

func (m *mockProductService) Create(ctx context.Context, identity *auth.Identity, in product.CreateInput) (*db.Product, string, error) {
	if m.createErr != nil {
		return nil, "", m.createErr
	}
	return m.created, m.warning, nil
}

func (m *mockProductService) List(ctx context.Context, identity *auth.Identity) ([]*db.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockProductService) Delete(ctx context.Context, identity *auth.Identity, id uuid.UUID) error {
	m.deletedID = id
	return m.deleteErr
}

func (m *mockProductService) Notifications(ctx context.Context, identity *auth.Identity) ([]*db.Notification, error) {
	if m.notifErr != nil {
		return nil, m.notifErr
	}
	return m.notifications, nil
}

type mockDispatchRunner struct {
	summary dispatch.Summary
	err     error
	runs    int
}

func (m *mockDispatchRunner) Run(ctx context.Context) (dispatch.Summary, error) {
	m.runs++
	return m.summary, m.err
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	identity := &auth.Identity{UserID: uuid.New(), Email: "sam@example.com"}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}
	var problem ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return problem
}

func TestCreateProduct_Success(t *testing.T) {
	created := &db.Product{
		ID:         uuid.New(),
		Name:       "Milk",
		ExpiryDate: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		Quantity:   1,
		Status:     "expiring_soon",
		AddedBy:    uuid.New(),
	}
	svc := &mockProductService{created: created}
	h := NewHandler(zap.NewNop(), svc, nil, nil, "secret")

	body, _ := json.Marshal(CreateProductRequest{Name: "Milk", ExpiryDate: "2026-06-08"})
	req := authedRequest("POST", "/v1/products", body)
	rec := httptest.NewRecorder()

	h.CreateProduct(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var resp ProductResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Product.ID != created.ID {
		t.Errorf("expected product id %s, got %s", created.ID, resp.Product.ID)
	}
	if resp.Warning != "" {
		t.Errorf("expected no warning, got %q", resp.Warning)
	}
}

func TestCreateProduct_ExpiredWarning(t *testing.T) {
	svc := &mockProductService{
		created: &db.Product{ID: uuid.New(), Name: "Old milk", Status: "expired"},
		warning: "this product is already expired",
	}
	h := NewHandler(zap.NewNop(), svc, nil, nil, "secret")

	body, _ := json.Marshal(CreateProductRequest{Name: "Old milk", ExpiryDate: "2020-01-01"})
	rec := httptest.NewRecorder()

	h.CreateProduct(rec, authedRequest("POST", "/v1/products", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var resp ProductResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Warning == "" {
		t.Error("expected warning for expired product")
	}
}

func TestCreateProduct_MalformedBody(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockProductService{}, nil, nil, "secret")

	req := authedRequest("POST", "/v1/products", []byte("{not json"))
	rec := httptest.NewRecorder()

	h.CreateProduct(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "invalid_request" {
		t.Errorf("expected type invalid_request, got %q", p.Type)
	}
}

func TestCreateProduct_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "validation error",
			err:        &product.ValidationError{Field: "name", Reason: "must not be empty"},
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "duplicate",
			err:        &product.DuplicateError{Name: "Milk", ExpiryDate: time.Now()},
			wantStatus: http.StatusConflict,
			wantType:   "duplicate_product",
		},
		{
			name:       "unauthenticated",
			err:        product.ErrUnauthenticated,
			wantStatus: http.StatusUnauthorized,
			wantType:   "unauthorized",
		},
		{
			name:       "storage down",
			err:        product.ErrUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   "unavailable",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(zap.NewNop(), &mockProductService{createErr: tt.err}, nil, nil, "secret")

			body, _ := json.Marshal(CreateProductRequest{Name: "Milk", ExpiryDate: "2026-06-08"})
			rec := httptest.NewRecorder()

			h.CreateProduct(rec, authedRequest("POST", "/v1/products", body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if p := decodeProblem(t, rec); p.Type != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, p.Type)
			}
		})
	}
}

func TestListProducts(t *testing.T) {
	svc := &mockProductService{listResult: []*db.Product{
		{ID: uuid.New(), Name: "Milk"},
		{ID: uuid.New(), Name: "Cheese"},
	}}
	h := NewHandler(zap.NewNop(), svc, nil, nil, "secret")

	rec := httptest.NewRecorder()
	h.ListProducts(rec, authedRequest("GET", "/v1/products", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Count int           `json:"count"`
		Data  []*db.Product `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Data) != 2 {
		t.Errorf("expected 2 products, got count=%d len=%d", resp.Count, len(resp.Data))
	}
}

func deleteRequest(id string) *http.Request {
	req := authedRequest("DELETE", "/v1/products/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestDeleteProduct(t *testing.T) {
	svc := &mockProductService{}
	h := NewHandler(zap.NewNop(), svc, nil, nil, "secret")

	id := uuid.New()
	rec := httptest.NewRecorder()
	h.DeleteProduct(rec, deleteRequest(id.String()))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if svc.deletedID != id {
		t.Errorf("expected delete of %s, got %s", id, svc.deletedID)
	}
}

func TestDeleteProduct_InvalidID(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockProductService{}, nil, nil, "secret")

	rec := httptest.NewRecorder()
	h.DeleteProduct(rec, deleteRequest("not-a-uuid"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestListNotifications(t *testing.T) {
	svc := &mockProductService{notifications: []*db.Notification{
		{ID: uuid.New(), Status: db.NotificationSent, ProductsCount: 3},
	}}
	h := NewHandler(zap.NewNop(), svc, nil, nil, "secret")

	rec := httptest.NewRecorder()
	h.ListNotifications(rec, authedRequest("GET", "/v1/notifications", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 notification, got %d", resp.Count)
	}
}

func TestRunDispatch_RequiresSecret(t *testing.T) {
	runner := &mockDispatchRunner{}
	h := NewHandler(zap.NewNop(), &mockProductService{}, runner, nil, "secret")

	tests := []struct {
		name   string
		secret string
	}{
		{"missing header", ""},
		{"wrong secret", "guess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/dispatch/run", nil)
			if tt.secret != "" {
				req.Header.Set("X-Cron-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()

			h.RunDispatch(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rec.Code)
			}
		})
	}
	if runner.runs != 0 {
		t.Errorf("dispatcher should not run without a valid secret, ran %d times", runner.runs)
	}
}

func TestRunDispatch_UnconfiguredSecretRejectsAll(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockProductService{}, &mockDispatchRunner{}, nil, "")

	req := httptest.NewRequest("POST", "/v1/dispatch/run", nil)
	req.Header.Set("X-Cron-Secret", "")
	rec := httptest.NewRecorder()

	h.RunDispatch(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestRunDispatch_ReturnsSummary(t *testing.T) {
	runner := &mockDispatchRunner{summary: dispatch.Summary{
		Outcome:          dispatch.OutcomeCompleted,
		ProductsSelected: 4,
		Sent:             8,
	}}
	h := NewHandler(zap.NewNop(), &mockProductService{}, runner, nil, "secret")

	req := httptest.NewRequest("POST", "/v1/dispatch/run", nil)
	req.Header.Set("X-Cron-Secret", "secret")
	rec := httptest.NewRecorder()

	h.RunDispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var summary dispatch.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Sent != 8 {
		t.Errorf("expected 8 sent, got %d", summary.Sent)
	}
}

func TestRunDispatch_RateLimitedOutcome(t *testing.T) {
	runner := &mockDispatchRunner{summary: dispatch.Summary{Outcome: dispatch.OutcomeRateLimited}}
	h := NewHandler(zap.NewNop(), &mockProductService{}, runner, nil, "secret")

	req := httptest.NewRequest("POST", "/v1/dispatch/run", nil)
	req.Header.Set("X-Cron-Secret", "secret")
	rec := httptest.NewRecorder()

	h.RunDispatch(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
}

func TestRunDispatch_Error(t *testing.T) {
	runner := &mockDispatchRunner{err: errors.New("pg down")}
	h := NewHandler(zap.NewNop(), &mockProductService{}, runner, nil, "secret")

	req := httptest.NewRequest("POST", "/v1/dispatch/run", nil)
	req.Header.Set("X-Cron-Secret", "secret")
	rec := httptest.NewRecorder()

	h.RunDispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}
