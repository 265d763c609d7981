package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/shared"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Order is a packing list / invoice.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	OrderNumber    string          `json:"order_number"`
	PartyID        *uuid.UUID      `json:"party_id,omitempty"`
	OrderDate      time.Time       `json:"order_date"`
	Status         Status          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeductionTotal decimal.Decimal `json:"deduction_total"`
	NetTotal       decimal.Decimal `json:"net_total"`
	Remarks        string          `json:"remarks,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []Item          `json:"items"`
	Deductions     []Deduction     `json:"deductions"`
}

// Item is one line of an order. SerialNo is dense and 1-based.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	SerialNo     int             `json:"serial_no"`
	Particular   string          `json:"particular"`
	Quantity     decimal.Decimal `json:"quantity"`
	QuantityUnit string          `json:"quantity_unit,omitempty"`
	Rate         decimal.Decimal `json:"rate_per_dzn"`
	Total        decimal.Decimal `json:"total"`
}

// Deduction records raw material consumed by an order. MaterialID is the
// resolved key; MaterialName is the display snapshot taken when the line was
// written. LedgerSynced is set once a stock-out entry exists for the line.
type Deduction struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	MaterialID   *uuid.UUID      `json:"material_id,omitempty"`
	MaterialName string          `json:"material_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
	LedgerSynced bool            `json:"ledger_synced"`
}

// ItemInput is a requested order line.
type ItemInput struct {
	Particular   string          `json:"particular" validate:"required,max=200"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gte=0"`
	QuantityUnit string          `json:"quantity_unit" validate:"max=20"`
	Rate         decimal.Decimal `json:"rate_per_dzn" validate:"gte=0"`
}

// DeductionInput is a requested deduction line. ID identifies an existing
// line when editing; lines without a material or quantity are ignored.
type DeductionInput struct {
	ID           *uuid.UUID      `json:"id,omitempty"`
	MaterialID   *uuid.UUID      `json:"material_id,omitempty"`
	MaterialName string          `json:"material_name" validate:"max=200"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gte=0"`
	Rate         decimal.Decimal `json:"rate" validate:"gte=0"`
}

func (d DeductionInput) valid() bool {
	return (d.MaterialID != nil || d.MaterialName != "") && d.Quantity.IsPositive()
}

// CreateOrderInput carries a new order. OrderNumber is generated from the
// party prefix when empty.
type CreateOrderInput struct {
	OrderNumber string           `json:"order_number" validate:"max=50"`
	PartyID     *uuid.UUID       `json:"party_id,omitempty"`
	OrderDate   time.Time        `json:"order_date" validate:"required"`
	Remarks     string           `json:"remarks" validate:"max=500"`
	Items       []ItemInput      `json:"items" validate:"dive"`
	Deductions  []DeductionInput `json:"deductions" validate:"dive"`
	ActorID     string           `json:"-"`
}

// UpdateOrderInput replaces the editable content of an order. The order
// number is fixed once issued.
type UpdateOrderInput struct {
	PartyID    *uuid.UUID       `json:"party_id,omitempty"`
	OrderDate  time.Time        `json:"order_date" validate:"required"`
	Remarks    string           `json:"remarks" validate:"max=500"`
	Items      []ItemInput      `json:"items" validate:"dive"`
	Deductions []DeductionInput `json:"deductions" validate:"dive"`
	ActorID    string           `json:"-"`
}

// StatusInput moves an order between pending and completed.
type StatusInput struct {
	Status  Status `json:"status" validate:"required,oneof=pending completed"`
	ActorID string `json:"-"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	PartyID *uuid.UUID
	Status  Status
	From    time.Time
	To      time.Time
}

// Result is an order plus what the bridge did to the ledger while writing it.
type Result struct {
	Order Order        `json:"order"`
	Lines []LineResult `json:"ledger_lines"`
}

// Unresolved returns the deduction lines that touched no stock.
func (r Result) Unresolved() []LineResult {
	var out []LineResult
	for _, l := range r.Lines {
		if l.Action == ActionUnresolved {
			out = append(out, l)
		}
	}
	return out
}

var (
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = fmt.Errorf("orders: order %w", shared.ErrNotFound)
	// ErrPartyNotFound indicates the referenced party does not exist.
	ErrPartyNotFound = fmt.Errorf("orders: party %w", shared.ErrNotFound)
	// ErrDuplicateOrderNumber is returned when the order number is already taken.
	ErrDuplicateOrderNumber = fmt.Errorf("orders: order number %w", shared.ErrDuplicate)
)
