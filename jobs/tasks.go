package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerInitialize writes opening balances into an empty ledger.
	TaskLedgerInitialize = "ledger:initialize"
	// TaskLedgerSyncOrders backfills ledger entries for unsynced order deductions.
	TaskLedgerSyncOrders = "ledger:sync-orders"
	// TaskLedgerRecompute compares current_stock with the ledger.
	TaskLedgerRecompute = "ledger:recompute-stock"
)

// LedgerPayload carries the caller identity and, for recompute, the mode.
type LedgerPayload struct {
	Actor string `json:"actor,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// NewLedgerTask constructs a ledger maintenance task of the given type.
func NewLedgerTask(taskType string, payload LedgerPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// DriftCheckTask is the nightly dry-run recompute.
func DriftCheckTask() (*asynq.Task, error) {
	return NewLedgerTask(TaskLedgerRecompute, LedgerPayload{Actor: "scheduler", Mode: "dry"})
}
