package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartpay-pos/smartpay-backend/api/responses"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	pkgredis "github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

const (
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLen   = 128

	// DefaultIdempotencyTTL retains cart and scan responses.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// IdempotencyPolicy names a protected operation and how long its responses
// are replayable.
type IdempotencyPolicy struct {
	Name string
	TTL  time.Duration
}

// storedResponse is what a replay writes back. Body is kept verbatim; the
// JSON encoder base64s the byte slice.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	BodyHash    string `json:"body_hash"`
	StoredAt    int64  `json:"stored_at"`
}

// Idempotency requires an Idempotency-Key on the wrapped route and replays
// the first non-5xx response for repeats of that key from the same device.
// A repeated key with a different body is rejected with IDEMPOTENCY.
// A nil store disables the check.
func Idempotency(store pkgredis.IdempotencyStore, policy IdempotencyPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	ttl := policy.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long").
					WithDetails(map[string]any{"max_length": maxIdempotencyKeyLen}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			bodyHash := digest(body)
			key := store.IdempotencyKey(idempotencyScope(policy.Name, r), clientKey)

			prior, err := lookupResponse(ctx, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if prior != nil {
				if prior.BodyHash != bodyHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				replay(w, prior)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			saved := storedResponse{
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				BodyHash:    bodyHash,
				StoredAt:    time.Now().Unix(),
			}
			if err := saveResponse(ctx, store, key, saved, ttl); err != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "idempotency_policy", policy.Name), "persist idempotency record", err)
			}
		})
	}
}

func idempotencyScope(name string, r *http.Request) string {
	return strings.Join([]string{name, deviceIDFromRequest(r), r.Method, r.URL.Path}, "|")
}

func lookupResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, pkgredis.ErrNil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var saved storedResponse
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// saveResponse uses SETNX so a concurrent first request keeps its record.
func saveResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string, saved storedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	_, err = store.SetNX(ctx, key, string(payload), ttl)
	return err
}

func replay(w http.ResponseWriter, saved *storedResponse) {
	if saved.ContentType != "" {
		w.Header().Set("Content-Type", saved.ContentType)
	}
	w.Header().Set(idempotentReplayHeader, "true")
	w.WriteHeader(saved.Status)
	_, _ = w.Write(saved.Body)
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
