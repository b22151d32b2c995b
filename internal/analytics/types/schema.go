package types

import (
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/smartpay-pos/smartpay-backend/pkg/bigquery"
	"github.com/smartpay-pos/smartpay-backend/pkg/config"
)

const partitionField = "settled_at"

// TableSpecs derives the fact table schemas from the row structs so the
// streamed columns and the created tables cannot drift apart.
func TableSpecs(cfg config.BigQueryConfig) ([]bigquery.TableSpec, error) {
	facts, err := cbigquery.InferSchema(SettlementFactRow{})
	if err != nil {
		return nil, fmt.Errorf("settlement fact schema: %w", err)
	}
	lines, err := cbigquery.InferSchema(SettlementLineFactRow{})
	if err != nil {
		return nil, fmt.Errorf("settlement line schema: %w", err)
	}
	return []bigquery.TableSpec{
		{Name: cfg.SettlementsTable, Schema: facts, PartitionField: partitionField},
		{Name: cfg.SettlementLinesTable, Schema: lines, PartitionField: partitionField},
	}, nil
}
