package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobMetrics counts background job runs. Satisfied by observability.Metrics.
type JobMetrics interface {
	ObserveJob(task, status string)
}

// LowStockScanner flags materials whose ledger balance fell under their
// reorder level. Materials without a balance record count as zero stock.
type LowStockScanner struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics JobMetrics
}

// NewLowStockScanner constructs the scanner.
func NewLowStockScanner(pool *pgxpool.Pool, logger *slog.Logger, metrics JobMetrics) *LowStockScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LowStockScanner{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskLowStockScan tasks.
func (s *LowStockScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.name, m.reorder_level, COALESCE(b.balance, 0)
		FROM materials m
		LEFT JOIN stock_balances b ON b.kind = 'material' AND b.resource_id = m.id
		WHERE m.reorder_level > 0 AND COALESCE(b.balance, 0) < m.reorder_level
		ORDER BY m.id`)
	if err != nil {
		s.observe("error")
		return err
	}
	defer rows.Close()

	flagged := 0
	for rows.Next() {
		var (
			id           int64
			name         string
			reorderLevel float64
			balance      float64
		)
		if err := rows.Scan(&id, &name, &reorderLevel, &balance); err != nil {
			s.observe("error")
			return err
		}
		flagged++
		s.logger.Warn("material under reorder level",
			slog.Int64("material_id", id),
			slog.String("name", name),
			slog.Float64("balance", balance),
			slog.Float64("reorder_level", reorderLevel),
		)
	}
	if err := rows.Err(); err != nil {
		s.observe("error")
		return err
	}

	s.logger.Info("low stock scan finished", slog.Int("flagged", flagged))
	s.observe("ok")
	return nil
}

func (s *LowStockScanner) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveJob(TaskLowStockScan, status)
	}
}
