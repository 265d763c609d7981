package reports_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/orders/orderstest"
	"github.com/stockbook/stockbook/internal/reports"
	"github.com/stockbook/stockbook/internal/shared"
)

type anomalyCounter map[string]int

func (c anomalyCounter) RecordUnclassified(view string, count int) { c[view] += count }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func n(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	store   *orderstest.Store
	cotton  ledger.Material
	thread  ledger.Material
	idle    ledger.Material
	party   ledger.Party
	orderID uuid.UUID
}

func newFixture() fixture {
	s := orderstest.NewStore()
	f := fixture{store: s, orderID: uuid.New()}
	f.cotton = s.AddMaterial(ledger.Material{Name: "Cotton White", Unit: "Mtr", OpeningStock: n(500)})
	f.thread = s.AddMaterial(ledger.Material{Name: "Thread White", Unit: "Pcs"})
	f.idle = s.AddMaterial(ledger.Material{Name: "Idle Lace", OpeningStock: n(7)})
	f.party = s.AddParty(ledger.Party{Name: "Rahul Traders"})
	ghostParty := uuid.New()

	add := func(m uuid.UUID, typ string, qty int64, date time.Time, opts func(*ledger.Transaction)) {
		tx := ledger.Transaction{MaterialID: m, Type: typ, Quantity: n(qty), TransactionDate: date}
		if opts != nil {
			opts(&tx)
		}
		_, _ = s.InsertTransaction(context.Background(), tx)
	}
	add(f.thread.ID, "add", 100, day(2024, 2, 1), func(tx *ledger.Transaction) { tx.PartyID = &f.party.ID; tx.SourceType = ledger.SourcePartySupply })
	add(f.thread.ID, "in", 50, day(2024, 2, 2), nil)
	add(f.thread.ID, "out", 30, day(2024, 2, 3), func(tx *ledger.Transaction) {
		tx.OrderID = &f.orderID
		tx.OrderNumber = "RT/1"
		tx.ReasonType = ledger.ReasonUsedInOrder
	})
	add(f.thread.ID, "order_deduction", 5, day(2024, 2, 4), func(tx *ledger.Transaction) {
		tx.OrderID = &f.orderID
		tx.OrderNumber = "RT/1"
		tx.PartyID = &f.party.ID
	})
	add(f.thread.ID, "transfer", 999, day(2024, 2, 5), nil)
	add(f.cotton.ID, "stock_in", 10, day(2024, 2, 6), func(tx *ledger.Transaction) { tx.PartyID = &ghostParty })
	add(uuid.New(), "out", 3, day(2024, 2, 7), nil)
	return f
}

func newService(t *testing.T, store *orderstest.Store, withCache bool) (*reports.Service, anomalyCounter) {
	t.Helper()
	var cache *reports.Cache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cache = reports.NewCache(client, time.Minute)
	}
	counter := anomalyCounter{}
	return reports.NewService(store, cache, counter, nil), counter
}

func rowByName(t *testing.T, rows []reports.MaterialRow, name string) reports.MaterialRow {
	t.Helper()
	for _, r := range rows {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("row %q not found", name)
	return reports.MaterialRow{}
}

func TestMaterialsReportOpeningOnlyMaterial(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	report, err := svc.Materials(context.Background(), reports.Filter{From: day(2024, 1, 1), To: day(2024, 1, 31)})
	require.NoError(t, err)
	cotton := rowByName(t, report.Rows, "Cotton White")
	require.True(t, cotton.Opening.Equal(n(500)))
	require.True(t, cotton.TotalIn.IsZero())
	require.True(t, cotton.TotalOut.IsZero())
	require.True(t, cotton.Closing.Equal(n(500)))
}

func TestMaterialsReportCoversEveryMaterial(t *testing.T) {
	f := newFixture()
	svc, counter := newService(t, f.store, false)

	report, err := svc.Materials(context.Background(), reports.Filter{From: day(2024, 2, 1), To: day(2024, 2, 29)})
	require.NoError(t, err)
	require.Len(t, report.Rows, 4)

	thread := rowByName(t, report.Rows, "Thread White")
	require.True(t, thread.TotalIn.Equal(n(150)))
	require.True(t, thread.TotalOut.Equal(n(35)))
	require.True(t, thread.Closing.Equal(n(115)))

	idle := rowByName(t, report.Rows, "Idle Lace")
	require.True(t, idle.Closing.Equal(n(7)))
	require.True(t, idle.TotalIn.IsZero())

	orphan := report.Rows[len(report.Rows)-1]
	require.Equal(t, reports.UnknownName, orphan.Name)
	require.True(t, orphan.Closing.Equal(n(-3)))

	require.Equal(t, 1, report.Unclassified)
	require.Equal(t, 1, counter["materials"])
}

func TestMaterialsReportMidHistoryWindow(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	report, err := svc.Materials(context.Background(), reports.Filter{MaterialID: &f.thread.ID, From: day(2024, 2, 3), To: day(2024, 2, 3)})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	require.True(t, row.Opening.Equal(n(150)))
	require.True(t, row.TotalOut.Equal(n(30)))
	require.True(t, row.Closing.Equal(n(120)))
}

func TestLedgerReportRunningBalances(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	report, err := svc.Ledger(context.Background(), reports.Filter{MaterialID: &f.thread.ID})
	require.NoError(t, err)
	require.Len(t, report.Sections, 1)
	lines := report.Sections[0].Lines
	require.Len(t, lines, 5)
	var balances []string
	for _, l := range lines {
		balances = append(balances, l.Balance.Decimal.String())
	}
	require.Equal(t, []string{"100", "150", "120", "115", "115"}, balances)
	require.Equal(t, "Rahul Traders", lines[0].PartyName)
	require.Equal(t, "party_supply", lines[0].Tag)
	require.Equal(t, "unclassified", lines[4].Direction)
	require.True(t, report.Sections[0].Summary.Closing.Equal(n(115)))
}

func TestPartiesReport(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	report, err := svc.Parties(context.Background(), reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	byParty := map[string]reports.PartyRow{}
	for _, r := range report.Rows {
		byParty[r.PartyName] = r
	}
	rahul := byParty["Rahul Traders"]
	require.Equal(t, "Thread White", rahul.MaterialName)
	require.True(t, rahul.Received.Equal(n(100)))
	require.True(t, rahul.Used.Equal(n(5)))
	require.True(t, rahul.Balance.Equal(n(95)))

	ghost := byParty[reports.UnknownName]
	require.Equal(t, "Cotton White", ghost.MaterialName)
	require.True(t, ghost.Balance.Equal(n(10)))
}

func TestOrdersReportNewestFirst(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	report, err := svc.Orders(context.Background(), reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)
	require.Equal(t, day(2024, 2, 4), report.Lines[0].Date)
	require.Equal(t, day(2024, 2, 3), report.Lines[1].Date)
	for _, l := range report.Lines {
		require.Equal(t, "RT/1", l.OrderNumber)
		require.Equal(t, f.orderID, *l.OrderID)
	}
}

func TestReportsAreCachedUntilInvalidated(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, true)
	ctx := context.Background()
	filter := reports.Filter{MaterialID: &f.cotton.ID}

	first, err := svc.Materials(ctx, filter)
	require.NoError(t, err)
	require.True(t, first.Rows[0].Closing.Equal(n(510)))

	_, err = f.store.InsertTransaction(ctx, ledger.Transaction{MaterialID: f.cotton.ID, Type: "in", Quantity: n(5), TransactionDate: day(2024, 3, 1)})
	require.NoError(t, err)

	cached, err := svc.Materials(ctx, filter)
	require.NoError(t, err)
	require.True(t, cached.Rows[0].Closing.Equal(n(510)))

	require.NoError(t, svc.Invalidate(ctx))
	fresh, err := svc.Materials(ctx, filter)
	require.NoError(t, err)
	require.True(t, fresh.Rows[0].Closing.Equal(n(515)))
}

func TestReportsRejectInvertedWindow(t *testing.T) {
	f := newFixture()
	svc, _ := newService(t, f.store, false)

	_, err := svc.Materials(context.Background(), reports.Filter{From: day(2024, 3, 1), To: day(2024, 2, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}
