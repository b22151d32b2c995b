package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

const deadLetterPageSize = 500

type deadLetterLister interface {
	ListFailedSince(ctx context.Context, since time.Time, limit int) ([]models.OutboxDLQ, error)
}

type DeadLetterReportJobParams struct {
	Logger *logger.Logger
	DLQ    deadLetterLister
	Window time.Duration
}

// deadLetterReportJob surfaces settlement events that were parked in the
// outbox DLQ during the window. Each one is a shopper without a receipt and
// a settlement missing from analytics.
type deadLetterReportJob struct {
	logg   *logger.Logger
	dlq    deadLetterLister
	window time.Duration
	now    func() time.Time
}

func NewDeadLetterReportJob(params DeadLetterReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DLQ == nil {
		return nil, fmt.Errorf("dlq repository required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultAuditWindow
	}
	return &deadLetterReportJob{
		logg:   params.Logger,
		dlq:    params.DLQ,
		window: window,
		now:    time.Now,
	}, nil
}

func (j *deadLetterReportJob) Name() string { return "dead-letter-report" }

func (j *deadLetterReportJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	entries, err := j.dlq.ListFailedSince(ctx, since, deadLetterPageSize)
	if err != nil {
		return fmt.Errorf("dead letter report: %w", err)
	}

	byReason := map[enums.OutboxDLQErrorReason]int{}
	var refs []string
	for _, entry := range entries {
		byReason[entry.ErrorReason]++
		if entry.EventType == enums.EventSettlementCompleted {
			refs = append(refs, entry.AggregateRef)
		}
	}

	fields := map[string]any{"since": since, "parked": len(entries)}
	for reason, n := range byReason {
		fields["reason_"+string(reason)] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "dead letter report complete")

	if len(refs) == 0 {
		return nil
	}
	shown := refs
	if len(shown) > maxReportedReferences {
		shown = shown[:maxReportedReferences]
	}
	return fmt.Errorf("%d settlement events dead-lettered: %s", len(refs), strings.Join(shown, ", "))
}
