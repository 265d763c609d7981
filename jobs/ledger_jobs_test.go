package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/backfill"
	jobmetrics "github.com/stockbook/stockbook/internal/jobs"
	"github.com/stockbook/stockbook/internal/platform/cache"
)

type fakeBackfill struct {
	actors []string
	modes  []backfill.Mode
	err    error
}

func (f *fakeBackfill) InitializeLedger(_ context.Context, actor string) (backfill.InitResult, error) {
	f.actors = append(f.actors, actor)
	return backfill.InitResult{}, f.err
}

func (f *fakeBackfill) SyncOrderLedger(_ context.Context, actor string) (backfill.SyncResult, error) {
	f.actors = append(f.actors, actor)
	return backfill.SyncResult{Orders: 2, Applied: 3}, f.err
}

func (f *fakeBackfill) RecomputeStock(_ context.Context, mode backfill.Mode, actor string) (backfill.RecomputeResult, error) {
	f.actors = append(f.actors, actor)
	f.modes = append(f.modes, mode)
	return backfill.RecomputeResult{Mode: mode}, f.err
}

func newJobs(svc Backfill) *LedgerJobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedgerJobs(svc, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestLedgerJobsDispatch(t *testing.T) {
	svc := &fakeBackfill{}
	j := newJobs(svc)
	ctx := context.Background()

	task, err := NewLedgerTask(TaskLedgerInitialize, LedgerPayload{Actor: "ops"})
	require.NoError(t, err)
	require.NoError(t, j.HandleInitialize(ctx, task))

	task, err = NewLedgerTask(TaskLedgerSyncOrders, LedgerPayload{Actor: "ops"})
	require.NoError(t, err)
	require.NoError(t, j.HandleSyncOrders(ctx, task))

	task, err = DriftCheckTask()
	require.NoError(t, err)
	require.Equal(t, TaskLedgerRecompute, task.Type())
	require.NoError(t, j.HandleRecompute(ctx, task))

	require.Equal(t, []string{"ops", "ops", "scheduler"}, svc.actors)
	require.Equal(t, []backfill.Mode{backfill.ModeDry}, svc.modes)
	require.Len(t, j.Handlers(), 3)
}

func TestLedgerJobsSkipRetry(t *testing.T) {
	ctx := context.Background()

	j := newJobs(&fakeBackfill{})
	err := j.HandleInitialize(ctx, asynq.NewTask(TaskLedgerInitialize, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewLedgerTask(TaskLedgerRecompute, LedgerPayload{Mode: "sideways"})
	require.NoError(t, err)
	require.ErrorIs(t, j.HandleRecompute(ctx, task), asynq.SkipRetry)

	busy := newJobs(&fakeBackfill{err: fmt.Errorf("%w: ledger:initialize", cache.ErrLocked)})
	require.ErrorIs(t, busy.HandleInitialize(ctx, asynq.NewTask(TaskLedgerInitialize, nil)), asynq.SkipRetry)

	boom := errors.New("boom")
	failing := newJobs(&fakeBackfill{err: boom})
	err = failing.HandleSyncOrders(ctx, asynq.NewTask(TaskLedgerSyncOrders, nil))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Failed: 1}}, logger).
		health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":4,"active":0,"retry":0,"failed":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHandler(stubInspector{err: errors.New("down")}, logger).
		health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	NewHandler(nil, logger).health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
