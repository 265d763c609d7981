// Package reports renders the ledger views: material-wise, party-wise,
// order-wise and the detailed per-material ledger.
package reports

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnknownName labels materials and parties that no longer exist.
const UnknownName = "Unknown"

// Filter narrows a report. MaterialID applies to the material, detailed and
// order views; PartyID applies to the party and order views.
type Filter struct {
	MaterialID *uuid.UUID
	PartyID    *uuid.UUID
	From       time.Time
	To         time.Time
}

// MaterialRow is one line of the material-wise summary.
type MaterialRow struct {
	MaterialID uuid.UUID       `json:"material_id"`
	Name       string          `json:"name"`
	Unit       string          `json:"unit"`
	Opening    decimal.Decimal `json:"opening_stock"`
	TotalIn    decimal.Decimal `json:"total_in"`
	TotalOut   decimal.Decimal `json:"total_out"`
	Closing    decimal.Decimal `json:"closing_stock"`
}

// MaterialReport is the material-wise summary.
type MaterialReport struct {
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	Rows         []MaterialRow `json:"rows"`
	Unclassified int           `json:"unclassified"`
}

// PartyRow is one (party, material) pairing of the party-wise summary.
type PartyRow struct {
	PartyID      uuid.UUID       `json:"party_id"`
	PartyName    string          `json:"party_name"`
	MaterialID   uuid.UUID       `json:"material_id"`
	MaterialName string          `json:"material_name"`
	Received     decimal.Decimal `json:"total_received"`
	Used         decimal.Decimal `json:"total_used"`
	Balance      decimal.Decimal `json:"balance"`
}

// PartyReport is the party-wise summary.
type PartyReport struct {
	From time.Time  `json:"from"`
	To   time.Time  `json:"to"`
	Rows []PartyRow `json:"rows"`
}

// Line is one ledger entry as shown in the order-wise and detailed views.
type Line struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	Date          time.Time           `json:"date"`
	MaterialID    uuid.UUID           `json:"material_id"`
	MaterialName  string              `json:"material_name"`
	Direction     string              `json:"direction"`
	Tag           string              `json:"tag,omitempty"`
	PartyName     string              `json:"party_name,omitempty"`
	OrderID       *uuid.UUID          `json:"order_id,omitempty"`
	OrderNumber   string              `json:"order_number,omitempty"`
	In            decimal.Decimal     `json:"in"`
	Out           decimal.Decimal     `json:"out"`
	Balance       decimal.NullDecimal `json:"balance"`
	Remarks       string              `json:"remarks,omitempty"`
}

// OrderReport lists order-linked entries, newest first.
type OrderReport struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Lines []Line    `json:"lines"`
}

// LedgerSection is one material of the detailed ledger.
type LedgerSection struct {
	Summary MaterialRow `json:"summary"`
	Lines   []Line      `json:"lines"`
}

// LedgerReport is the detailed ledger with running balances.
type LedgerReport struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Sections     []LedgerSection `json:"sections"`
	Unclassified int             `json:"unclassified"`
}
