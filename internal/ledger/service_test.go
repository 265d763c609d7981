package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/ledger/ledgertest"
	"github.com/stockbook/stockbook/internal/shared"
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type countingCache struct {
	calls int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.calls++
	return nil
}

type memoryIdempotency struct {
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

var today = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newService(store *ledgertest.Store, cfg ledger.ServiceConfig) (*ledger.Service, *recordingAudit, *countingCache) {
	audit := &recordingAudit{}
	cache := &countingCache{}
	cfg.Now = func() time.Time { return today }
	return ledger.NewService(store, audit, nil, cache, nil, cfg), audit, cache
}

func TestRecordStockInAndOut(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Cotton White", Unit: "Mtr", CurrentStock: decimal.NewFromInt(10)})
	svc, audit, cache := newService(store, ledger.ServiceConfig{})
	ctx := context.Background()

	in, err := svc.RecordStockIn(ctx, ledger.StockInInput{
		MaterialID: m.ID,
		Quantity:   decimal.NewFromInt(40),
		SourceType: ledger.SourceMarketPurchase,
		ActorID:    "alice",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.TypeIn, in.Type)
	require.True(t, in.BalanceAfter.Decimal.Equal(decimal.NewFromInt(50)))
	require.Equal(t, ledger.DateOf(today), in.TransactionDate)

	out, err := svc.RecordStockOut(ctx, ledger.StockOutInput{
		MaterialID: m.ID,
		Quantity:   decimal.NewFromInt(15),
		ReasonType: ledger.ReasonWastage,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.TypeOut, out.Type)
	require.True(t, store.Stock(m.ID).Equal(decimal.NewFromInt(35)))
	require.Len(t, store.Transactions, 2)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "alice", audit.logs[0].ActorID)
	require.Equal(t, 2, cache.calls)
}

func TestRecordStockOutRejectsInsufficientStock(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Thread White", CurrentStock: decimal.NewFromInt(5)})
	svc, _, cache := newService(store, ledger.ServiceConfig{})

	_, err := svc.RecordStockOut(context.Background(), ledger.StockOutInput{
		MaterialID: m.ID,
		Quantity:   decimal.NewFromInt(6),
		ReasonType: ledger.ReasonSample,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.Transactions)
	require.True(t, store.Stock(m.ID).Equal(decimal.NewFromInt(5)))
	require.Zero(t, cache.calls)
}

func TestRecordStockOutAllowsNegativeWhenConfigured(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Buttons"})
	svc, _, _ := newService(store, ledger.ServiceConfig{AllowNegativeStock: true})

	_, err := svc.RecordStockOut(context.Background(), ledger.StockOutInput{
		MaterialID: m.ID,
		Quantity:   decimal.NewFromInt(3),
		ReasonType: ledger.ReasonDamage,
	})
	require.NoError(t, err)
	require.True(t, store.Stock(m.ID).Equal(decimal.NewFromInt(-3)))
}

func TestRecordStockInValidatesInput(t *testing.T) {
	store := ledgertest.NewStore()
	svc, _, _ := newService(store, ledger.ServiceConfig{})

	_, err := svc.RecordStockIn(context.Background(), ledger.StockInInput{
		Quantity:   decimal.NewFromInt(-1),
		SourceType: "gift",
	})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "material_id")
	require.Contains(t, verr.Fields, "quantity")
	require.Contains(t, verr.Fields, "source_type")
}

func TestRecordStockInRejectsOpeningStockSource(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Cotton White", OpeningStock: decimal.NewFromInt(500), CurrentStock: decimal.NewFromInt(500)})
	svc, _, _ := newService(store, ledger.ServiceConfig{})

	_, err := svc.RecordStockIn(context.Background(), ledger.StockInInput{
		MaterialID: m.ID,
		Quantity:   decimal.NewFromInt(20),
		SourceType: ledger.SourceOpeningStock,
	})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "source_type")
	require.Empty(t, store.Transactions)
	require.True(t, store.Stock(m.ID).Equal(decimal.NewFromInt(500)))
}

func TestRecordStockInUnknownMaterial(t *testing.T) {
	svc, _, _ := newService(ledgertest.NewStore(), ledger.ServiceConfig{})
	_, err := svc.RecordStockIn(context.Background(), ledger.StockInInput{
		MaterialID: uuid.New(),
		Quantity:   decimal.NewFromInt(1),
		SourceType: ledger.SourceReturn,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIdempotencyKeyBlocksReplay(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Zip"})
	idem := &memoryIdempotency{keys: map[string]struct{}{}}
	svc := ledger.NewService(store, nil, idem, nil, nil, ledger.ServiceConfig{})
	input := ledger.StockInInput{
		MaterialID:     m.ID,
		Quantity:       decimal.NewFromInt(2),
		SourceType:     ledger.SourcePartySupply,
		IdempotencyKey: "req-1",
	}

	_, err := svc.RecordStockIn(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.RecordStockIn(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, store.Transactions, 1)
}

func TestUpdateTransactionAppliesDifference(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Lace"})
	legacy, _ := store.InsertTransaction(context.Background(), ledger.Transaction{
		MaterialID:      m.ID,
		Type:            "stock_out",
		Quantity:        decimal.NewFromInt(10),
		TransactionDate: today,
	})
	store.Materials[m.ID] = ledger.Material{ID: m.ID, Name: "Lace", CurrentStock: decimal.NewFromInt(90)}
	svc, _, _ := newService(store, ledger.ServiceConfig{})

	updated, err := svc.UpdateTransaction(context.Background(), legacy.ID, ledger.UpdateTransactionInput{
		Quantity:        decimal.NewFromInt(4),
		TransactionDate: today.AddDate(0, 0, -1),
		Remarks:         "recounted",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.TypeOut, updated.Type)
	require.True(t, store.Stock(m.ID).Equal(decimal.NewFromInt(96)))
	require.Equal(t, "recounted", store.Transactions[0].Remarks)
}

func TestUpdateTransactionRejectsUnclassified(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Lace"})
	bad, _ := store.InsertTransaction(context.Background(), ledger.Transaction{MaterialID: m.ID, Type: "transfer", Quantity: decimal.NewFromInt(1), TransactionDate: today})
	svc, _, _ := newService(store, ledger.ServiceConfig{})

	_, err := svc.UpdateTransaction(context.Background(), bad.ID, ledger.UpdateTransactionInput{Quantity: decimal.NewFromInt(2), TransactionDate: today})
	require.ErrorIs(t, err, ledger.ErrUnclassifiedType)
}

func TestDeleteTransactionReversesStock(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Elastic"})
	svc, _, _ := newService(store, ledger.ServiceConfig{})
	ctx := context.Background()

	in, err := svc.RecordStockIn(ctx, ledger.StockInInput{MaterialID: m.ID, Quantity: decimal.NewFromInt(12), SourceType: ledger.SourceAdjustment})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteTransaction(ctx, in.ID, "bob"))

	require.True(t, store.Stock(m.ID).IsZero())
	require.Empty(t, store.Transactions)
	require.ErrorIs(t, svc.DeleteTransaction(ctx, in.ID, "bob"), shared.ErrNotFound)
}

func TestDeleteIncreaseBlockedWhenStockAlreadyConsumed(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Elastic"})
	svc, _, _ := newService(store, ledger.ServiceConfig{})
	ctx := context.Background()

	in, err := svc.RecordStockIn(ctx, ledger.StockInInput{MaterialID: m.ID, Quantity: decimal.NewFromInt(12), SourceType: ledger.SourceAdjustment})
	require.NoError(t, err)
	_, err = svc.RecordStockOut(ctx, ledger.StockOutInput{MaterialID: m.ID, Quantity: decimal.NewFromInt(10), ReasonType: ledger.ReasonUsedInOrder})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteTransaction(ctx, in.ID, ""), ledger.ErrInsufficientStock)
	require.Len(t, store.Transactions, 2)
}

func TestListTransactionsRejectsInvertedWindow(t *testing.T) {
	svc, _, _ := newService(ledgertest.NewStore(), ledger.ServiceConfig{})
	_, err := svc.ListTransactions(context.Background(), ledger.TransactionFilter{From: today, To: today.AddDate(0, 0, -3)})
	require.ErrorIs(t, err, shared.ErrValidation)
}
