package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/stockbook/stockbook/internal/ledger"
)

// Bridge actions reported per deduction line.
const (
	ActionApplied    = "applied"
	ActionRestored   = "restored"
	ActionUnresolved = "unresolved"
	ActionSkipped    = "skipped"
)

// LineResult reports what the bridge did for one deduction line.
type LineResult struct {
	DeductionID   uuid.UUID  `json:"deduction_id"`
	MaterialName  string     `json:"material_name"`
	Action        string     `json:"action"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

// UnresolvedRecorder counts deductions that could not be matched to a material.
type UnresolvedRecorder interface {
	RecordUnresolved(count int)
}

// Resolver matches deductions to materials, by key first and then by
// case-folded name.
type Resolver struct {
	byID   map[uuid.UUID]ledger.Material
	byName map[string]ledger.Material
	fold   cases.Caser
}

// NewResolver indexes materials. When two materials fold to the same name the
// first one in the slice wins.
func NewResolver(materials []ledger.Material) *Resolver {
	r := &Resolver{
		byID:   make(map[uuid.UUID]ledger.Material, len(materials)),
		byName: make(map[string]ledger.Material, len(materials)),
		fold:   cases.Fold(),
	}
	for _, m := range materials {
		r.byID[m.ID] = m
		key := r.key(m.Name)
		if _, taken := r.byName[key]; !taken {
			r.byName[key] = m
		}
	}
	return r
}

func (r *Resolver) key(name string) string {
	return r.fold.String(strings.TrimSpace(name))
}

// Resolve finds the material a deduction refers to.
func (r *Resolver) Resolve(materialID *uuid.UUID, name string) (ledger.Material, bool) {
	if materialID != nil {
		if m, ok := r.byID[*materialID]; ok {
			return m, true
		}
	}
	if strings.TrimSpace(name) == "" {
		return ledger.Material{}, false
	}
	m, ok := r.byName[r.key(name)]
	return m, ok
}

// Bridge keeps order deductions and stock-out ledger entries consistent.
// Every call runs inside the caller's transaction.
type Bridge struct {
	logger  *slog.Logger
	metrics UnresolvedRecorder
}

// NewBridge constructs Bridge. metrics may be nil.
func NewBridge(logger *slog.Logger, metrics UnresolvedRecorder) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger, metrics: metrics}
}

// Apply consumes stock for d and writes a DECREASE entry tagged to the order.
// An unresolvable material leaves d unsynced and touches nothing.
func (b *Bridge) Apply(ctx context.Context, tx ledger.TxRepository, res *Resolver, o Order, d *Deduction) (LineResult, error) {
	return b.apply(ctx, tx, res, o, d, false, fmt.Sprintf("Used in order %s", o.OrderNumber))
}

// Backfill writes the missing stock-out entry for a deduction recorded before
// it was linked to the ledger. With adjustStock false only the ledger row is
// written, for histories whose current_stock already reflects the order.
func (b *Bridge) Backfill(ctx context.Context, tx ledger.TxRepository, res *Resolver, o Order, d *Deduction, adjustStock bool) (LineResult, error) {
	return b.apply(ctx, tx, res, o, d, !adjustStock, fmt.Sprintf("Used in order %s (backfilled)", o.OrderNumber))
}

func (b *Bridge) apply(ctx context.Context, tx ledger.TxRepository, res *Resolver, o Order, d *Deduction, ledgerOnly bool, remarks string) (LineResult, error) {
	result := LineResult{DeductionID: d.ID, MaterialName: d.MaterialName}
	material, ok := res.Resolve(d.MaterialID, d.MaterialName)
	if !ok {
		d.MaterialID = nil
		d.LedgerSynced = false
		result.Action = ActionUnresolved
		b.unresolved(o, *d)
		return result, nil
	}
	d.MaterialID = &material.ID
	if d.MaterialName == "" {
		d.MaterialName = material.Name
		result.MaterialName = material.Name
	}

	orderID := o.ID
	entry, err := ledger.Post(ctx, tx, ledger.Movement{
		MaterialID:  material.ID,
		Direction:   ledger.Decrease,
		Quantity:    d.Quantity,
		Date:        o.OrderDate,
		ReasonType:  ledger.ReasonUsedInOrder,
		OrderID:     &orderID,
		OrderNumber: o.OrderNumber,
		Rate:        nullable(d.Rate),
		Remarks:     remarks,
		LedgerOnly:  ledgerOnly,
	})
	if err != nil {
		return result, fmt.Errorf("orders: apply deduction %q: %w", d.MaterialName, err)
	}
	d.LedgerSynced = true
	result.Action = ActionApplied
	result.TransactionID = &entry.ID
	b.logger.Debug("deduction applied", slog.String("order", o.OrderNumber), slog.String("material", material.Name), slog.String("quantity", d.Quantity.String()))
	return result, nil
}

// Restore returns the stock consumed by d and writes an INCREASE entry
// reversing it. Lines that never reached the ledger are skipped.
func (b *Bridge) Restore(ctx context.Context, tx ledger.TxRepository, res *Resolver, o Order, d Deduction) (LineResult, error) {
	result := LineResult{DeductionID: d.ID, MaterialName: d.MaterialName}
	if !d.LedgerSynced {
		result.Action = ActionSkipped
		return result, nil
	}
	material, ok := res.Resolve(d.MaterialID, d.MaterialName)
	if !ok {
		result.Action = ActionUnresolved
		b.unresolved(o, d)
		return result, nil
	}

	orderID := o.ID
	entry, err := ledger.Post(ctx, tx, ledger.Movement{
		MaterialID:  material.ID,
		Direction:   ledger.Increase,
		Quantity:    d.Quantity,
		Date:        o.OrderDate,
		SourceType:  ledger.SourceReturn,
		OrderID:     &orderID,
		OrderNumber: o.OrderNumber,
		Rate:        nullable(d.Rate),
		Remarks:     fmt.Sprintf("Reversal of deleted deduction for order %s", o.OrderNumber),
	})
	if err != nil {
		return result, fmt.Errorf("orders: restore deduction %q: %w", d.MaterialName, err)
	}
	result.Action = ActionRestored
	result.TransactionID = &entry.ID
	return result, nil
}

func (b *Bridge) unresolved(o Order, d Deduction) {
	b.logger.Warn("deduction material not found; stock untouched",
		slog.String("order", o.OrderNumber),
		slog.String("deduction_id", d.ID.String()),
		slog.String("material_name", d.MaterialName))
	if b.metrics != nil {
		b.metrics.RecordUnresolved(1)
	}
}
