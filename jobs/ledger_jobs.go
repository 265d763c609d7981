package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stockbook/stockbook/internal/backfill"
	jobmetrics "github.com/stockbook/stockbook/internal/jobs"
	"github.com/stockbook/stockbook/internal/shared"
)

// Backfill is the subset of backfill.Service driven by the worker.
type Backfill interface {
	InitializeLedger(ctx context.Context, actor string) (backfill.InitResult, error)
	SyncOrderLedger(ctx context.Context, actor string) (backfill.SyncResult, error)
	RecomputeStock(ctx context.Context, mode backfill.Mode, actor string) (backfill.RecomputeResult, error)
}

// LedgerJobs handles the ledger maintenance tasks.
type LedgerJobs struct {
	Service Backfill
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerJobs wires the ledger task handlers.
func NewLedgerJobs(service Backfill, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerJobs {
	return &LedgerJobs{Service: service, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations for the worker.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerInitialize, Handler: j.HandleInitialize},
		{Type: TaskLedgerSyncOrders, Handler: j.HandleSyncOrders},
		{Type: TaskLedgerRecompute, Handler: j.HandleRecompute},
	}
}

// HandleInitialize runs TaskLedgerInitialize.
func (j *LedgerJobs) HandleInitialize(ctx context.Context, t *asynq.Task) error {
	payload, err := decode(t)
	if err != nil {
		return err
	}
	return j.run(TaskLedgerInitialize, func() error {
		res, err := j.Service.InitializeLedger(ctx, payload.Actor)
		if err != nil {
			return err
		}
		j.logger().Info("ledger initialised",
			slog.Bool("skipped", res.Skipped),
			slog.Int("entries", len(res.Entries)),
		)
		return nil
	})
}

// HandleSyncOrders runs TaskLedgerSyncOrders.
func (j *LedgerJobs) HandleSyncOrders(ctx context.Context, t *asynq.Task) error {
	payload, err := decode(t)
	if err != nil {
		return err
	}
	return j.run(TaskLedgerSyncOrders, func() error {
		res, err := j.Service.SyncOrderLedger(ctx, payload.Actor)
		if err != nil {
			return err
		}
		j.logger().Info("order ledger synced",
			slog.Int("orders", res.Orders),
			slog.Int("applied", res.Applied),
			slog.Int("unresolved", res.Unresolved),
		)
		return nil
	})
}

// HandleRecompute runs TaskLedgerRecompute in the payload's mode.
func (j *LedgerJobs) HandleRecompute(ctx context.Context, t *asynq.Task) error {
	payload, err := decode(t)
	if err != nil {
		return err
	}
	mode, err := backfill.ParseMode(payload.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return j.run(TaskLedgerRecompute, func() error {
		res, err := j.Service.RecomputeStock(ctx, mode, payload.Actor)
		if err != nil {
			return err
		}
		j.logger().Info("stock recomputed",
			slog.String("mode", string(res.Mode)),
			slog.Int("checked", res.Checked),
			slog.Int("drifts", len(res.Drifts)),
		)
		return nil
	})
}

// run tracks fn and turns a busy lock into a non-retried skip.
func (j *LedgerJobs) run(job string, fn func() error) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("ledger jobs: handler not configured")
	}
	tracker := j.Metrics.Track(job)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	err := fn()
	if errors.Is(err, shared.ErrConflict) {
		j.logger().Warn("ledger job already running", slog.String("job", job))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		j.logger().Error("ledger job failed", slog.String("job", job), slog.Any("error", err))
	}
	return err
}

func (j *LedgerJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

func decode(t *asynq.Task) (LedgerPayload, error) {
	var payload LedgerPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
