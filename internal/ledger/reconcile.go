package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/shared"
)

// Window is an inclusive range of business dates. A zero Start means "since
// the first entry"; a zero End means "no upper bound".
type Window struct {
	Start time.Time
	End   time.Time
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate rejects inverted windows.
func (w Window) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && DateOf(w.Start).After(DateOf(w.End)) {
		return shared.NewValidationError("from", "must not be after to")
	}
	return nil
}

// precedes reports whether d falls before the window start.
func (w Window) precedes(d time.Time) bool {
	return !w.Start.IsZero() && DateOf(d).Before(DateOf(w.Start))
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d time.Time) bool {
	if w.precedes(d) {
		return false
	}
	return w.End.IsZero() || !DateOf(d).After(DateOf(w.End))
}

// Anomaly flags a ledger row the engine refused to count.
type Anomaly struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	MaterialID    uuid.UUID `json:"material_id"`
	Type          string    `json:"transaction_type"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("transaction %s has unclassified type %q", a.TransactionID, a.Type)
}

// Entry is an in-window transaction with its recomputed running balance.
type Entry struct {
	Transaction
	Direction Direction       `json:"direction"`
	Balance   decimal.Decimal `json:"balance"`
}

// Summary holds the window figures of one material.
type Summary struct {
	MaterialID uuid.UUID       `json:"material_id"`
	Opening    decimal.Decimal `json:"opening"`
	TotalIn    decimal.Decimal `json:"total_in"`
	TotalOut   decimal.Decimal `json:"total_out"`
	Closing    decimal.Decimal `json:"closing"`
}

// MaterialLedger is the reconciled view of one material for a window.
type MaterialLedger struct {
	Material Material `json:"material"`
	// Orphan is set when transactions reference a material that no longer exists.
	Orphan  bool    `json:"orphan"`
	Summary Summary `json:"summary"`
	Entries []Entry `json:"entries"`
}

// Result is the output of Reconcile.
type Result struct {
	Ledgers   []MaterialLedger
	Anomalies []Anomaly
}

// PartyBalance accumulates in-window movements of one material tagged with one party.
type PartyBalance struct {
	PartyID    uuid.UUID       `json:"party_id"`
	MaterialID uuid.UUID       `json:"material_id"`
	Received   decimal.Decimal `json:"total_received"`
	Used       decimal.Decimal `json:"total_used"`
	Balance    decimal.Decimal `json:"balance"`
}

// Baseline is the quantity a material carries before its first ledger entry.
// Ledger initialization materialises opening_stock as an opening-stock entry
// of the same quantity; once that entry exists it carries the quantity and
// the baseline is zero. Other opening-stock entries are ordinary movements.
func Baseline(m Material, history []Transaction) decimal.Decimal {
	if m.OpeningStock.IsZero() {
		return decimal.Zero
	}
	for _, tx := range history {
		if tx.MaterialID == m.ID && tx.IsOpeningEntry() && tx.Quantity.Equal(m.OpeningStock) {
			return decimal.Zero
		}
	}
	return m.OpeningStock
}

// SortChronological orders txs by (transaction date, created_at) ascending.
// IDs break exact ties so the order is total.
func SortChronological(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return chronoLess(txs[i], txs[j])
	})
}

// SortReverseChronological is the inverse of SortChronological.
func SortReverseChronological(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return chronoLess(txs[j], txs[i])
	})
}

func chronoLess(a, b Transaction) bool {
	da, db := DateOf(a.TransactionDate), DateOf(b.TransactionDate)
	if !da.Equal(db) {
		return da.Before(db)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// OpeningStock derives the balance of m at the start of w from its complete
// history: baseline plus every classified movement dated before w.Start.
func OpeningStock(m Material, history []Transaction, w Window) decimal.Decimal {
	opening := Baseline(m, history)
	for _, tx := range history {
		if tx.MaterialID != m.ID || !w.precedes(tx.TransactionDate) {
			continue
		}
		opening = opening.Add(tx.Delta())
	}
	return opening
}

// ReconcileMaterial derives the window summary and running balances for m.
// history must be the material's complete, unfiltered log; stored
// balance_after values are ignored.
func ReconcileMaterial(m Material, history []Transaction, w Window) (MaterialLedger, []Anomaly) {
	own := make([]Transaction, 0, len(history))
	for _, tx := range history {
		if tx.MaterialID == m.ID {
			own = append(own, tx)
		}
	}
	SortChronological(own)

	var anomalies []Anomaly
	sum := Summary{
		MaterialID: m.ID,
		Opening:    Baseline(m, own),
		TotalIn:    decimal.Zero,
		TotalOut:   decimal.Zero,
	}
	var inWindow []Transaction
	for _, tx := range own {
		dir := tx.Direction()
		if dir == Unclassified && (w.precedes(tx.TransactionDate) || w.Contains(tx.TransactionDate)) {
			anomalies = append(anomalies, Anomaly{TransactionID: tx.ID, MaterialID: m.ID, Type: tx.Type})
		}
		switch {
		case w.precedes(tx.TransactionDate):
			sum.Opening = sum.Opening.Add(tx.Delta())
		case w.Contains(tx.TransactionDate):
			inWindow = append(inWindow, tx)
		}
	}

	running := sum.Opening
	entries := make([]Entry, 0, len(inWindow))
	for _, tx := range inWindow {
		dir := tx.Direction()
		switch dir {
		case Increase:
			sum.TotalIn = sum.TotalIn.Add(tx.Quantity)
		case Decrease:
			sum.TotalOut = sum.TotalOut.Add(tx.Quantity)
		}
		running = running.Add(tx.Delta())
		entries = append(entries, Entry{Transaction: tx, Direction: dir, Balance: running})
	}
	sum.Closing = sum.Opening.Add(sum.TotalIn).Sub(sum.TotalOut)

	return MaterialLedger{Material: m, Summary: sum, Entries: entries}, anomalies
}

// Reconcile produces one MaterialLedger per material in scope, in the order
// given, followed by orphan groups for transactions whose material is not in
// materials. Every material appears even without activity.
func Reconcile(materials []Material, history []Transaction, w Window) Result {
	byMaterial := make(map[uuid.UUID][]Transaction)
	for _, tx := range history {
		byMaterial[tx.MaterialID] = append(byMaterial[tx.MaterialID], tx)
	}

	var res Result
	known := make(map[uuid.UUID]struct{}, len(materials))
	for _, m := range materials {
		known[m.ID] = struct{}{}
		ml, anomalies := ReconcileMaterial(m, byMaterial[m.ID], w)
		res.Ledgers = append(res.Ledgers, ml)
		res.Anomalies = append(res.Anomalies, anomalies...)
	}

	var orphans []uuid.UUID
	for id := range byMaterial {
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].String() < orphans[j].String() })
	for _, id := range orphans {
		ml, anomalies := ReconcileMaterial(Material{ID: id}, byMaterial[id], w)
		ml.Orphan = true
		res.Ledgers = append(res.Ledgers, ml)
		res.Anomalies = append(res.Anomalies, anomalies...)
	}
	return res
}

// DerivedStock is the ledger truth for m over its whole history.
func DerivedStock(m Material, history []Transaction) decimal.Decimal {
	ml, _ := ReconcileMaterial(m, history, Window{})
	return ml.Summary.Closing
}

// PartyBalances groups in-window transactions that carry a party by
// (party, material). Transactions without a party are skipped.
func PartyBalances(history []Transaction, w Window) []PartyBalance {
	type key struct{ party, material uuid.UUID }
	acc := make(map[key]*PartyBalance)
	var order []key
	for _, tx := range history {
		if tx.PartyID == nil || !w.Contains(tx.TransactionDate) {
			continue
		}
		k := key{party: *tx.PartyID, material: tx.MaterialID}
		pb, ok := acc[k]
		if !ok {
			pb = &PartyBalance{PartyID: k.party, MaterialID: k.material, Received: decimal.Zero, Used: decimal.Zero}
			acc[k] = pb
			order = append(order, k)
		}
		switch tx.Direction() {
		case Increase:
			pb.Received = pb.Received.Add(tx.Quantity)
		case Decrease:
			pb.Used = pb.Used.Add(tx.Quantity)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].party != order[j].party {
			return order[i].party.String() < order[j].party.String()
		}
		return order[i].material.String() < order[j].material.String()
	})
	out := make([]PartyBalance, 0, len(order))
	for _, k := range order {
		pb := acc[k]
		pb.Balance = pb.Received.Sub(pb.Used)
		out = append(out, *pb)
	}
	return out
}

// OrderMovements returns in-window transactions carrying an order number,
// newest first.
func OrderMovements(history []Transaction, w Window) []Transaction {
	var out []Transaction
	for _, tx := range history {
		if tx.OrderNumber == "" || !w.Contains(tx.TransactionDate) {
			continue
		}
		out = append(out, tx)
	}
	SortReverseChronological(out)
	return out
}
