package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleLedger() LedgerReport {
	summary := MaterialRow{Name: "Cotton White", Unit: "Mtr", Opening: dec("500"), TotalIn: dec("40"), TotalOut: dec("32.5"), Closing: dec("507.5")}
	return LedgerReport{Sections: []LedgerSection{{
		Summary: summary,
		Lines: []Line{
			{
				Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), MaterialName: "Cotton White", Direction: "increase",
				Tag: "market_purchase", PartyName: "Rahul Traders", In: dec("40"), Out: decimal.Zero,
				Balance: decimal.NewNullDecimal(dec("540")), Remarks: "bill 17",
			},
			{
				Date: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), MaterialName: "Cotton White", Direction: "decrease",
				Tag: "used_in_order", OrderNumber: "RT/42", In: decimal.Zero, Out: dec("32.5"),
				Balance: decimal.NewNullDecimal(dec("507.5")), Remarks: "Used in order RT/42",
			},
		},
	}}}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteMaterialsCSV(t *testing.T) {
	report := MaterialReport{Rows: []MaterialRow{
		sampleLedger().Sections[0].Summary,
		{Name: UnknownName, Opening: decimal.Zero, TotalIn: decimal.Zero, TotalOut: dec("5"), Closing: dec("-5")},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteMaterialsCSV(&buf, report))
	newGoldie(t).Assert(t, "materials_csv", buf.Bytes())
}

func TestWriteLedgerCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLedgerCSV(&buf, sampleLedger()))
	newGoldie(t).Assert(t, "ledger_csv", buf.Bytes())
}

func TestWriteLedgerXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLedgerXLSX(&buf, sampleLedger()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.Equal(t, []string{sheetSummary, sheetLedger}, f.GetSheetList())
	name, err := f.GetCellValue(sheetSummary, "A2")
	require.NoError(t, err)
	require.Equal(t, "Cotton White", name)
	balance, err := f.GetCellValue(sheetLedger, "I3")
	require.NoError(t, err)
	require.Equal(t, "507.5", balance)
}
