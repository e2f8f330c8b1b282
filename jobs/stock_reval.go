package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StockRevaluer snapshots the monetary value of the material and packaging
// ledgers into stock_valuations. Sums run on decimals so unit prices never
// accumulate float drift.
type StockRevaluer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics JobMetrics
}

// NewStockRevaluer constructs the revaluer.
func NewStockRevaluer(pool *pgxpool.Pool, logger *slog.Logger, metrics JobMetrics) *StockRevaluer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockRevaluer{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskStockRevaluation tasks.
func (s *StockRevaluer) Handle(ctx context.Context, t *asynq.Task) error {
	var payload StockRevaluationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	materialValue, err := s.ledgerValue(ctx, `
		SELECT COALESCE(b.balance, 0), m.price
		FROM materials m
		LEFT JOIN stock_balances b ON b.kind = 'material' AND b.resource_id = m.id`)
	if err != nil {
		s.observe("error")
		return err
	}
	packagingValue, err := s.ledgerValue(ctx, `
		SELECT COALESCE(b.balance, 0), pm.price
		FROM package_materials pm
		LEFT JOIN stock_balances b ON b.kind = 'packaging' AND b.resource_id = pm.id`)
	if err != nil {
		s.observe("error")
		return err
	}

	now := time.Now().UTC()
	batch := [][2]any{
		{"material", materialValue},
		{"packaging", packagingValue},
	}
	for _, row := range batch {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO stock_valuations (kind, total_value, valued_at) VALUES ($1, $2, $3)`,
			row[0], row[1].(decimal.Decimal).String(), now); err != nil {
			s.observe("error")
			return err
		}
	}

	s.logger.Info("stock revaluation finished",
		slog.String("material_value", materialValue.String()),
		slog.String("packaging_value", packagingValue.String()),
	)
	s.observe("ok")
	return nil
}

func (s *StockRevaluer) ledgerValue(ctx context.Context, query string) (decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var balance, price float64
		if err := rows.Scan(&balance, &price); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(rowValue(balance, price))
	}
	return total, rows.Err()
}

// rowValue is the exact monetary value of one balance at a unit price.
func rowValue(balance, price float64) decimal.Decimal {
	return decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(price))
}

func (s *StockRevaluer) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveJob(TaskStockRevaluation, status)
	}
}
