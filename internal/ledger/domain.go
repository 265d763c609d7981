package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/shared"
)

// Canonical transaction types written by this service. Legacy rows may carry
// any synonym accepted by Classify.
const (
	TypeIn  = "in"
	TypeOut = "out"
)

// SourceType tags where an increase came from.
type SourceType string

const (
	SourceMarketPurchase SourceType = "market_purchase"
	SourcePartySupply    SourceType = "party_supply"
	SourceOtherSupplier  SourceType = "other_supplier"
	SourceReturn         SourceType = "return"
	SourceAdjustment     SourceType = "adjustment"
	SourceOpeningStock   SourceType = "opening_stock"
)

// ReasonType tags why a decrease happened.
type ReasonType string

const (
	ReasonUsedInOrder ReasonType = "used_in_order"
	ReasonWastage     ReasonType = "wastage"
	ReasonSample      ReasonType = "sample"
	ReasonDamage      ReasonType = "damage"
	ReasonReturned    ReasonType = "returned"
	ReasonAdjustment  ReasonType = "adjustment"
)

// Material is a trackable inventory item. CurrentStock is a cache of the
// ledger-derived balance.
type Material struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Rate         decimal.Decimal `json:"rate"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CategoryID   *uuid.UUID      `json:"category_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Party is a customer or supplier.
type Party struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	OrderPrefix  string    `json:"order_prefix"`
	LastOrderSeq int64     `json:"last_order_seq"`
}

// Transaction is one ledger entry. Quantity is always a positive magnitude;
// the sign comes from Type.
type Transaction struct {
	ID              uuid.UUID           `json:"id"`
	MaterialID      uuid.UUID           `json:"material_id"`
	Type            string              `json:"transaction_type"`
	Quantity        decimal.Decimal     `json:"quantity"`
	TransactionDate time.Time           `json:"transaction_date"`
	CreatedAt       time.Time           `json:"created_at"`
	SourceType      SourceType          `json:"source_type,omitempty"`
	ReasonType      ReasonType          `json:"reason_type,omitempty"`
	PartyID         *uuid.UUID          `json:"party_id,omitempty"`
	OrderID         *uuid.UUID          `json:"order_id,omitempty"`
	OrderNumber     string              `json:"order_number,omitempty"`
	Rate            decimal.NullDecimal `json:"rate"`
	Remarks         string              `json:"remarks,omitempty"`
	BalanceAfter    decimal.NullDecimal `json:"balance_after"`
}

// Direction reports the classified movement direction of t.
func (t Transaction) Direction() Direction {
	return Classify(t.Type)
}

// Delta returns the signed quantity of t, or zero for unclassified types.
func (t Transaction) Delta() decimal.Decimal {
	switch t.Direction() {
	case Increase:
		return t.Quantity
	case Decrease:
		return t.Quantity.Neg()
	default:
		return decimal.Zero
	}
}

// IsOpeningEntry reports whether t materialises a material's opening stock.
func (t Transaction) IsOpeningEntry() bool {
	return t.SourceType == SourceOpeningStock && t.Direction() == Increase
}

// TransactionFilter narrows ledger queries. Zero values mean "no filter".
type TransactionFilter struct {
	MaterialID *uuid.UUID
	PartyID    *uuid.UUID
	OrderID    *uuid.UUID
	From       time.Time
	To         time.Time
}

// StockInInput records an increase.
type StockInInput struct {
	MaterialID      uuid.UUID        `json:"material_id" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"required,gt=0"`
	TransactionDate time.Time        `json:"transaction_date"`
	SourceType      SourceType       `json:"source_type" validate:"required,oneof=market_purchase party_supply other_supplier return adjustment"`
	PartyID         *uuid.UUID       `json:"party_id,omitempty"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Remarks         string           `json:"remarks" validate:"max=500"`
	ActorID         string           `json:"-"`
	IdempotencyKey  string           `json:"-"`
}

// StockOutInput records a decrease.
type StockOutInput struct {
	MaterialID      uuid.UUID        `json:"material_id" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"required,gt=0"`
	TransactionDate time.Time        `json:"transaction_date"`
	ReasonType      ReasonType       `json:"reason_type" validate:"required,oneof=used_in_order wastage sample damage returned adjustment"`
	PartyID         *uuid.UUID       `json:"party_id,omitempty"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Remarks         string           `json:"remarks" validate:"max=500"`
	ActorID         string           `json:"-"`
	IdempotencyKey  string           `json:"-"`
}

// UpdateTransactionInput edits mutable fields of an existing entry.
type UpdateTransactionInput struct {
	Quantity        decimal.Decimal `json:"quantity" validate:"required,gt=0"`
	TransactionDate time.Time       `json:"transaction_date" validate:"required"`
	Remarks         string          `json:"remarks" validate:"max=500"`
	ActorID         string          `json:"-"`
}

var (
	// ErrMaterialNotFound indicates the referenced material does not exist.
	ErrMaterialNotFound = fmt.Errorf("ledger: material %w", shared.ErrNotFound)
	// ErrTransactionNotFound indicates the referenced ledger entry does not exist.
	ErrTransactionNotFound = fmt.Errorf("ledger: transaction %w", shared.ErrNotFound)
	// ErrInsufficientStock is returned for a stock-out larger than current stock.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrValidation)
	// ErrInvalidQuantity rejects zero or negative movements.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	// ErrUnclassifiedType blocks edits of entries whose type cannot be classified.
	ErrUnclassifiedType = fmt.Errorf("ledger: transaction type is neither increase nor decrease: %w", shared.ErrConflict)
	// ErrOrderLinked blocks direct edits of entries written for an order
	// deduction; they change only through the order.
	ErrOrderLinked = fmt.Errorf("ledger: entry belongs to an order, edit the order instead: %w", shared.ErrConflict)
)
