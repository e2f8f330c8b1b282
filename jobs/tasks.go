package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan flags materials whose balance fell under the reorder level.
	TaskLowStockScan = "stock:low_stock_scan"
	// TaskStockRevaluation snapshots the monetary value of the material ledger.
	TaskStockRevaluation = "stock:revaluation"
)

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the low stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// StockRevaluationPayload carries scheduling metadata.
type StockRevaluationPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockRevaluationTask constructs an Asynq task for stock revaluation.
func NewStockRevaluationTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockRevaluationPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRevaluation, body, asynq.Queue(QueueDefault)), nil
}
