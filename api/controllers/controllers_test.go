package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/lanes"
	"github.com/smartpay-pos/smartpay-backend/internal/settlement"
	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

type stubSettler struct {
	userID   int64
	deadline bool
	result   *settlement.Result
	err      error
}

func (s *stubSettler) Settle(ctx context.Context, userID int64) (*settlement.Result, error) {
	s.userID = userID
	_, s.deadline = ctx.Deadline()
	return s.result, s.err
}

type stubLanes struct {
	boundDevice string
	boundUser   int64
	scanned     []string
	err         error
}

func (s *stubLanes) Bind(_ context.Context, deviceID string, userID int64) (*lanes.Binding, error) {
	s.boundDevice, s.boundUser = deviceID, userID
	return &lanes.Binding{DeviceID: deviceID, UserID: userID, TTL: 30 * time.Minute}, s.err
}

func (s *stubLanes) Release(_ context.Context, deviceID string) error {
	s.boundDevice = deviceID
	return s.err
}

func (s *stubLanes) Scan(_ context.Context, deviceID string, tags []string) (int64, *cart.AddResult, error) {
	s.scanned = tags
	if s.err != nil {
		return 0, nil, s.err
	}
	return 5, &cart.AddResult{CartID: 11, Added: tags}, nil
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCheckoutReturnsReference(t *testing.T) {
	svc := &stubSettler{result: &settlement.Result{
		Reference:  "TXN-1",
		Status:     settlement.StatusSuccess,
		Amount:     decimal.RequireFromString("60"),
		NewBalance: decimal.RequireFromString("40"),
		Currency:   "INR",
		ItemCount:  2,
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"user_id":7}`))
	rec := httptest.NewRecorder()
	Checkout(svc, time.Second, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 7, svc.userID)
	require.True(t, svc.deadline)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, "TXN-1", data["reference"])
	require.Equal(t, "success", data["status"])
	require.Equal(t, "60.00", data["amount"])
	require.Equal(t, "40.00", data["new_balance"])
}

func TestCheckoutMapsRejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"empty", pkgerrors.Wrap(pkgerrors.CodeEmptyCart, settlement.ErrEmptyCart, "cart is empty"), http.StatusUnprocessableEntity},
		{"funds", pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, settlement.ErrInsufficientFunds, "insufficient wallet balance"), http.StatusPaymentRequired},
		{"stock", pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for Tea"), http.StatusConflict},
		{"store", pkgerrors.New(pkgerrors.CodeDependency, "settlement store unavailable"), http.StatusServiceUnavailable},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"user_id":1}`))
			rec := httptest.NewRecorder()
			Checkout(&stubSettler{err: tt.err}, 0, nil).ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCheckoutValidatesBody(t *testing.T) {
	svc := &stubSettler{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"user_id":-3}`))
	rec := httptest.NewRecorder()
	Checkout(svc, 0, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, svc.userID)
}

func TestLaneRoutes(t *testing.T) {
	svc := &stubLanes{}
	r := chi.NewRouter()
	r.Post("/lanes/{deviceId}/bind", LaneBind(svc, nil))
	r.Delete("/lanes/{deviceId}/bind", LaneRelease(svc, nil))
	r.Post("/lanes/{deviceId}/scans", LaneScan(svc, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lanes/lane-3/bind", strings.NewReader(`{"user_id":5}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "lane-3", svc.boundDevice)
	require.EqualValues(t, 5, svc.boundUser)
	require.EqualValues(t, 1800, decodeBody(t, rec)["data"].(map[string]any)["ttl_seconds"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lanes/lane-3/scans", strings.NewReader(`{"tags":["E200A","E200B"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"E200A", "E200B"}, svc.scanned)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, 11, data["cart_id"])
	require.Empty(t, data["unknown_tags"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/lanes/lane-3/bind", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLaneScanUnboundLane(t *testing.T) {
	svc := &stubLanes{err: pkgerrors.New(pkgerrors.CodeNotFound, "lane is not bound")}
	r := chi.NewRouter()
	r.Post("/lanes/{deviceId}/scans", LaneScan(svc, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lanes/lane-9/scans", strings.NewReader(`{"tags":["X"]}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, logger.Nop(), map[string]Pinger{
		"db":    pingerFunc(func(context.Context) error { return nil }),
		"redis": nil,
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dev", rec.Header().Get(envHeader))

	rec = httptest.NewRecorder()
	HealthReady(cfg, logger.Nop(), map[string]Pinger{
		"db": pingerFunc(func(context.Context) error { return errors.New("down") }),
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
