package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

const (
	defaultAuditWindow    = 25 * time.Hour
	auditPageSize         = 200
	maxReportedReferences = 10
)

type settlementLister interface {
	ListCreatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]models.Settlement, error)
}

type LedgerAuditJobParams struct {
	Logger *logger.Logger
	Ledger settlementLister
	Window time.Duration
}

// ledgerAuditJob re-checks recent settlements for arithmetic drift: each line
// subtotal is quantity x unit price, the total is the sum of subtotals and
// the recorded balance moved by exactly the total.
type ledgerAuditJob struct {
	logg   *logger.Logger
	ledger settlementLister
	window time.Duration
	now    func() time.Time
}

func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultAuditWindow
	}
	return &ledgerAuditJob{
		logg:   params.Logger,
		ledger: params.Ledger,
		window: window,
		now:    time.Now,
	}, nil
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	var (
		afterID int64
		checked int
		bad     []string
	)
	for {
		rows, err := j.ledger.ListCreatedSince(ctx, since, afterID, auditPageSize)
		if err != nil {
			return fmt.Errorf("ledger audit: %w", err)
		}
		for i := range rows {
			if problem := auditSettlement(&rows[i]); problem != "" {
				bad = append(bad, rows[i].Reference)
				j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
					"reference": rows[i].Reference,
					"problem":   problem,
				}), "settlement failed audit")
			}
		}
		checked += len(rows)
		if len(rows) < auditPageSize {
			break
		}
		afterID = rows[len(rows)-1].ID
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"since":   since,
		"checked": checked,
		"failed":  len(bad),
	}), "ledger audit complete")

	if len(bad) > 0 {
		shown := bad
		if len(shown) > maxReportedReferences {
			shown = shown[:maxReportedReferences]
		}
		return fmt.Errorf("%d settlements failed audit: %s", len(bad), strings.Join(shown, ", "))
	}
	return nil
}

func auditSettlement(s *models.Settlement) string {
	if len(s.Lines) == 0 {
		return "no lines"
	}
	sum := decimal.Zero
	items := 0
	for _, line := range s.Lines {
		if line.Quantity <= 0 {
			return fmt.Sprintf("line %d has quantity %d", line.ProductID, line.Quantity)
		}
		want := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if !line.Subtotal.Equal(want) {
			return fmt.Sprintf("line %d subtotal %s != %s", line.ProductID, line.Subtotal.StringFixed(2), want.StringFixed(2))
		}
		sum = sum.Add(line.Subtotal)
		items += line.Quantity
	}
	switch {
	case !s.TotalAmount.Equal(sum):
		return fmt.Sprintf("total %s != line sum %s", s.TotalAmount.StringFixed(2), sum.StringFixed(2))
	case !s.BalanceAfter.Equal(s.BalanceBefore.Sub(s.TotalAmount)):
		return "balance delta does not match total"
	case s.BalanceAfter.IsNegative():
		return "negative balance after"
	case s.ItemCount != items:
		return fmt.Sprintf("item count %d != %d", s.ItemCount, items)
	}
	return ""
}
