package backfill_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/backfill"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/orders"
	"github.com/stockbook/stockbook/internal/orders/orderstest"
	"github.com/stockbook/stockbook/internal/platform/cache"
)

type driftCounter map[string]int

func (c driftCounter) AddDrift(mode string, count int) { c[mode] += count }

var inception = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newService(t *testing.T, store *orderstest.Store, cfg backfill.Config) (*backfill.Service, driftCounter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	drift := driftCounter{}
	svc := backfill.NewService(store, nil, cache.NewLocker(client, time.Minute), nil, nil, drift, nil, cfg)
	return svc, drift
}

func TestInitializeLedgerIsIdempotent(t *testing.T) {
	store := orderstest.NewStore()
	cotton := store.AddMaterial(ledger.Material{Name: "Cotton", OpeningStock: d(50), CurrentStock: d(50)})
	legacy := store.AddMaterial(ledger.Material{Name: "Legacy Lace", CurrentStock: d(12)})
	store.AddMaterial(ledger.Material{Name: "Empty"})
	svc, _ := newService(t, store, backfill.Config{Inception: inception})
	ctx := context.Background()

	first, err := svc.InitializeLedger(ctx, "admin")
	require.NoError(t, err)
	require.False(t, first.Skipped)
	require.Len(t, first.Entries, 2)
	require.Equal(t, inception, first.Inception)
	for _, e := range store.Transactions {
		require.True(t, e.IsOpeningEntry())
		require.Equal(t, inception, e.TransactionDate)
	}
	require.True(t, store.Stock(cotton.ID).Equal(d(50)))
	require.True(t, ledger.DerivedStock(store.Materials[cotton.ID], store.Transactions).Equal(d(50)))
	require.True(t, ledger.DerivedStock(store.Materials[legacy.ID], store.Transactions).Equal(d(12)))

	second, err := svc.InitializeLedger(ctx, "admin")
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Len(t, store.Transactions, 2)
}

func TestInitializeDefaultsToEarliestMaterialDate(t *testing.T) {
	store := orderstest.NewStore()
	store.AddMaterial(ledger.Material{Name: "A", OpeningStock: d(1), CreatedAt: time.Date(2023, 6, 3, 15, 0, 0, 0, time.UTC)})
	store.AddMaterial(ledger.Material{Name: "B", OpeningStock: d(1), CreatedAt: time.Date(2023, 5, 9, 9, 30, 0, 0, time.UTC)})
	svc, _ := newService(t, store, backfill.Config{})

	res, err := svc.InitializeLedger(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 5, 9, 0, 0, 0, 0, time.UTC), res.Inception)
}

func seedLegacyOrder(t *testing.T, store *orderstest.Store, number string, lines ...orders.Deduction) orders.Order {
	t.Helper()
	o := orders.Order{ID: uuid.New(), OrderNumber: number, OrderDate: time.Date(2023, 9, 14, 0, 0, 0, 0, time.UTC), Status: orders.StatusCompleted}
	require.NoError(t, store.InsertOrder(context.Background(), o))
	for _, line := range lines {
		line.ID = uuid.New()
		line.OrderID = o.ID
		require.NoError(t, store.InsertDeduction(context.Background(), line))
	}
	return o
}

func TestSyncOrderLedgerBackfillsOnce(t *testing.T) {
	store := orderstest.NewStore()
	thread := store.AddMaterial(ledger.Material{Name: "Thread White", OpeningStock: d(100), CurrentStock: d(68)})
	order := seedLegacyOrder(t, store, "RT/7",
		orders.Deduction{MaterialName: "THREAD WHITE", Quantity: d(32), Rate: d(2)},
		orders.Deduction{MaterialName: "Mystery", Quantity: d(3)},
	)
	svc, _ := newService(t, store, backfill.Config{})
	ctx := context.Background()

	res, err := svc.SyncOrderLedger(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, 1, res.Orders)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, 1, res.Unresolved)
	require.Len(t, store.Transactions, 1)
	entry := store.Transactions[0]
	require.Equal(t, ledger.Decrease, entry.Direction())
	require.Equal(t, order.ID, *entry.OrderID)
	require.Equal(t, order.OrderDate, entry.TransactionDate)
	require.Contains(t, entry.Remarks, "backfilled")
	// Ledger-only by default: the cache already reflects the order.
	require.True(t, store.Stock(thread.ID).Equal(d(68)))
	require.True(t, ledger.DerivedStock(store.Materials[thread.ID], store.Transactions).Equal(d(68)))

	again, err := svc.SyncOrderLedger(ctx, "admin")
	require.NoError(t, err)
	require.Zero(t, again.Applied)
	require.Equal(t, 1, again.Unresolved)
	require.Len(t, store.Transactions, 1)
}

func TestSyncOrderLedgerCanAdjustStock(t *testing.T) {
	store := orderstest.NewStore()
	lace := store.AddMaterial(ledger.Material{Name: "Lace", CurrentStock: d(20)})
	seedLegacyOrder(t, store, "L/3", orders.Deduction{MaterialID: &lace.ID, MaterialName: "Lace", Quantity: d(5)})
	svc, _ := newService(t, store, backfill.Config{AdjustStockOnSync: true})

	_, err := svc.SyncOrderLedger(context.Background(), "")
	require.NoError(t, err)
	require.True(t, store.Stock(lace.ID).Equal(d(15)))
}

func TestRecomputeStockDryThenApply(t *testing.T) {
	store := orderstest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Cotton", OpeningStock: d(10), CurrentStock: d(99)})
	ok := store.AddMaterial(ledger.Material{Name: "Buttons", OpeningStock: d(5), CurrentStock: d(5)})
	store.Transactions = append(store.Transactions,
		ledger.Transaction{ID: uuid.New(), MaterialID: m.ID, Type: "add", Quantity: d(4), TransactionDate: inception, CreatedAt: inception},
		ledger.Transaction{ID: uuid.New(), MaterialID: m.ID, Type: "order_deduction", Quantity: d(1), TransactionDate: inception, CreatedAt: inception.Add(time.Second)},
		ledger.Transaction{ID: uuid.New(), MaterialID: m.ID, Type: "transfer", Quantity: d(100), TransactionDate: inception, CreatedAt: inception.Add(2 * time.Second)},
	)
	svc, drift := newService(t, store, backfill.Config{})
	ctx := context.Background()

	dry, err := svc.RecomputeStock(ctx, backfill.ModeDry, "")
	require.NoError(t, err)
	require.Equal(t, 2, dry.Checked)
	require.Len(t, dry.Drifts, 1)
	require.Equal(t, m.ID, dry.Drifts[0].MaterialID)
	require.True(t, dry.Drifts[0].Derived.Equal(d(13)))
	require.True(t, dry.Drifts[0].Difference.Equal(d(-86)))
	require.Len(t, dry.Anomalies, 1)
	require.True(t, store.Stock(m.ID).Equal(d(99)))

	applied, err := svc.RecomputeStock(ctx, backfill.ModeApply, "admin")
	require.NoError(t, err)
	require.Len(t, applied.Drifts, 1)
	require.True(t, store.Stock(m.ID).Equal(d(13)))
	require.True(t, store.Stock(ok.ID).Equal(d(5)))
	require.Equal(t, driftCounter{"dry": 1, "apply": 1}, drift)
}

func TestNormalizeTypesRewritesSynonyms(t *testing.T) {
	store := orderstest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Cotton"})
	for i, typ := range []string{"add", " Stock_In ", "in", "reduce", "OUT", "stockout", "transfer"} {
		store.Transactions = append(store.Transactions, ledger.Transaction{
			ID: uuid.New(), MaterialID: m.ID, Type: typ, Quantity: d(1),
			TransactionDate: inception, CreatedAt: inception.Add(time.Duration(i) * time.Second),
		})
	}
	before := ledger.DerivedStock(store.Materials[m.ID], store.Transactions)
	svc, _ := newService(t, store, backfill.Config{})
	ctx := context.Background()

	dry, err := svc.NormalizeTypes(ctx, backfill.ModeDry, "")
	require.NoError(t, err)
	require.Equal(t, []string{" Stock_In ", "OUT", "add", "reduce", "stockout"}, dry.RewrittenTypes())
	require.Equal(t, "add", store.Transactions[0].Type)

	_, err = svc.NormalizeTypes(ctx, backfill.ModeApply, "admin")
	require.NoError(t, err)
	types := make([]string, 0, len(store.Transactions))
	for _, tx := range store.Transactions {
		types = append(types, tx.Type)
	}
	require.Equal(t, []string{"in", "in", "in", "out", "out", "out", "transfer"}, types)
	require.True(t, ledger.DerivedStock(store.Materials[m.ID], store.Transactions).Equal(before))

	again, err := svc.NormalizeTypes(ctx, backfill.ModeApply, "admin")
	require.NoError(t, err)
	require.Empty(t, again.Rewritten)
	require.Len(t, again.Unclassified, 1)
}

func TestParseMode(t *testing.T) {
	m, err := backfill.ParseMode("")
	require.NoError(t, err)
	require.Equal(t, backfill.ModeDry, m)
	_, err = backfill.ParseMode("force")
	require.Error(t, err)
}
