// Package writer streams settlement facts into BigQuery.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
)

type Config struct {
	SettlementsTable     string
	SettlementLinesTable string
	// BatchSize is how many settlements buffer before a flush; defaults to 1.
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy bounds retries of a single insert. Only transient BigQuery
// failures are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = 2 * time.Second
	}
	p.MaximumBackoff = max(p.MaximumBackoff, p.InitialBackoff)
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter buffers settlements and their lines. Lines always land
// before their fact row so a reader never sees a fact without lines. Not
// safe for concurrent use.
type BigQueryWriter struct {
	client           tableInserter
	settlementsTable string
	linesTable       string
	batchSize        int
	retry            RetryPolicy

	settlementBuffer []types.SettlementFactRow
	lineBuffer       []types.SettlementLineFactRow
}

func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	settlements := strings.TrimSpace(cfg.SettlementsTable)
	lines := strings.TrimSpace(cfg.SettlementLinesTable)
	if settlements == "" || lines == "" {
		return nil, errors.New("settlements and settlement lines tables are required")
	}
	return &BigQueryWriter{
		client:           client,
		settlementsTable: settlements,
		linesTable:       lines,
		batchSize:        max(cfg.BatchSize, 1),
		retry:            cfg.RetryPolicy.withDefaults(),
	}, nil
}

func (w *BigQueryWriter) InsertSettlement(ctx context.Context, fact types.SettlementFactRow, lines []types.SettlementLineFactRow) error {
	w.settlementBuffer = append(w.settlementBuffer, fact)
	w.lineBuffer = append(w.lineBuffer, lines...)
	if len(w.settlementBuffer) < w.batchSize {
		return nil
	}
	return w.Flush(ctx)
}

// Flush writes buffered lines and then facts. A buffer is cleared only once
// its insert succeeds, so a failed flush can be retried as-is.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	if err := flushBuffer(ctx, w, w.linesTable, &w.lineBuffer); err != nil {
		return err
	}
	return flushBuffer(ctx, w, w.settlementsTable, &w.settlementBuffer)
}

func flushBuffer[T any](ctx context.Context, w *BigQueryWriter, table string, buf *[]T) error {
	if len(*buf) == 0 {
		return nil
	}
	rows := make([]any, len(*buf))
	for i := range *buf {
		rows[i] = &(*buf)[i]
	}
	if err := w.insert(ctx, table, rows); err != nil {
		return err
	}
	*buf = (*buf)[:0]
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context, table string, rows []any) error {
	err := retry.Do(ctx, w.retry.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, table, rows)
		if isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("insert %d rows into %s: %w", len(rows), table, err)
}

// isRetryableBigQueryError is true only when every underlying failure is
// transient; one bad row makes the whole insert permanent.
func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}
	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		inner := make([]error, len(rowErrs))
		for i, rowErr := range rowErrs {
			inner[i] = rowErr.Errors
		}
		return allRetryable(inner)
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return slices.Contains(retryableHTTP, apiErr.Code)
	}
	if st, ok := status.FromError(err); ok {
		return slices.Contains(retryableGRPC, st.Code())
	}
	return false
}

func allRetryable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !isRetryableBigQueryError(err) {
			return false
		}
	}
	return true
}

var retryableHTTP = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

var retryableGRPC = []codes.Code{
	codes.Aborted,
	codes.DeadlineExceeded,
	codes.Internal,
	codes.ResourceExhausted,
	codes.Unavailable,
}

// EncodeJSON renders payload for a nullable BigQuery JSON column.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
	}
	if payload == nil {
		return cbigquery.NullJSON{}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(encoded)}, nil
}
