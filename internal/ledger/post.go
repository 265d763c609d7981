package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement describes one stock change to write to the ledger.
type Movement struct {
	MaterialID  uuid.UUID
	Direction   Direction
	Quantity    decimal.Decimal
	Date        time.Time
	SourceType  SourceType
	ReasonType  ReasonType
	PartyID     *uuid.UUID
	OrderID     *uuid.UUID
	OrderNumber string
	Rate        decimal.NullDecimal
	Remarks     string
	// RequireAvailable rejects decreases that would take current_stock below zero.
	RequireAvailable bool
	// LedgerOnly writes the entry without touching current_stock.
	LedgerOnly bool
}

// Post appends m to the ledger and applies it to the material's
// current_stock inside tx. The material row is locked first; the ledger
// entry is inserted before the cache update so both land or neither does.
func Post(ctx context.Context, tx TxRepository, m Movement) (Transaction, error) {
	if m.Direction == Unclassified {
		return Transaction{}, ErrUnclassifiedType
	}
	if !m.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	material, err := tx.GetMaterialForUpdate(ctx, m.MaterialID)
	if err != nil {
		return Transaction{}, err
	}

	entry := Transaction{
		MaterialID:      material.ID,
		Type:            CanonicalType(m.Direction),
		Quantity:        m.Quantity,
		TransactionDate: DateOf(m.Date),
		SourceType:      m.SourceType,
		ReasonType:      m.ReasonType,
		PartyID:         m.PartyID,
		OrderID:         m.OrderID,
		OrderNumber:     m.OrderNumber,
		Rate:            m.Rate,
		Remarks:         m.Remarks,
	}
	if m.LedgerOnly {
		return tx.InsertTransaction(ctx, entry)
	}

	delta := entry.Delta()
	next := material.CurrentStock.Add(delta)
	if m.RequireAvailable && m.Direction == Decrease && next.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: %s has %s, requested %s", ErrInsufficientStock, material.Name, material.CurrentStock, m.Quantity)
	}
	entry.BalanceAfter = decimal.NewNullDecimal(next)
	entry, err = tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: insert transaction: %w", err)
	}
	stock, err := tx.AdjustStock(ctx, material.ID, delta)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: adjust stock: %w", err)
	}
	entry.BalanceAfter = decimal.NewNullDecimal(stock)
	return entry, nil
}
