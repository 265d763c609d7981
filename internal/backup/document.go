// Package backup exports and restores the full stockbook dataset as one JSON
// document.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/stockbook/stockbook/internal/shared"
)

// FormatVersion is written into every exported document.
const FormatVersion = "1.0"

// Table names in foreign-key order. Restore inserts in this order and deletes
// in reverse.
const (
	TableParties            = "parties"
	TableMaterialCategories = "material_categories"
	TableMaterials          = "materials"
	TableOrders             = "orders"
	TableOrderItems         = "order_items"
	TableDeductions         = "raw_material_deductions"
	TableTransactions       = "stock_transactions"
)

// Tables lists every table in restore order.
var Tables = []string{
	TableParties,
	TableMaterialCategories,
	TableMaterials,
	TableOrders,
	TableOrderItems,
	TableDeductions,
	TableTransactions,
}

// requiredFields must be present and non-null on every record of a table.
var requiredFields = map[string][]string{
	TableParties:      {"id", "name"},
	TableMaterials:    {"id", "name", "rate", "current_stock", "unit"},
	TableOrders:       {"id", "order_number", "status", "order_date"},
	TableOrderItems:   {"id", "order_id", "particular", "quantity", "rate_per_dzn", "total", "serial_no"},
	TableDeductions:   {"id", "order_id", "material_name", "quantity", "rate", "amount"},
	TableTransactions: {"id", "material_id", "transaction_type", "quantity"},
}

// Record is one table row as a JSON object. Numbers are kept as json.Number
// so decimals survive a round trip.
type Record map[string]any

// Document is the backup file.
type Document struct {
	Version            string    `json:"version"`
	ExportedAt         time.Time `json:"exportedAt"`
	Parties            []Record  `json:"parties"`
	Materials          []Record  `json:"materials"`
	MaterialCategories []Record  `json:"material_categories"`
	Orders             []Record  `json:"orders"`
	OrderItems         []Record  `json:"order_items"`
	Deductions         []Record  `json:"raw_material_deductions"`
	Transactions       []Record  `json:"stock_transactions"`
}

// Table returns a pointer to the records of the named table.
func (d *Document) Table(name string) *[]Record {
	switch name {
	case TableParties:
		return &d.Parties
	case TableMaterialCategories:
		return &d.MaterialCategories
	case TableMaterials:
		return &d.Materials
	case TableOrders:
		return &d.Orders
	case TableOrderItems:
		return &d.OrderItems
	case TableDeductions:
		return &d.Deductions
	case TableTransactions:
		return &d.Transactions
	default:
		return nil
	}
}

// Counts returns the number of records per table.
func (d *Document) Counts() map[string]int {
	out := make(map[string]int, len(Tables))
	for _, t := range Tables {
		out[t] = len(*d.Table(t))
	}
	return out
}

// Problem is one record that fails structural validation.
type Problem struct {
	Table   string   `json:"table"`
	Index   int      `json:"index"`
	Missing []string `json:"missing"`
}

func (p Problem) String() string {
	if p.Index < 0 {
		return fmt.Sprintf("%s: %s", p.Table, strings.Join(p.Missing, ", "))
	}
	return fmt.Sprintf("%s[%d]: missing %s", p.Table, p.Index, strings.Join(p.Missing, ", "))
}

// ValidationError lists every structural problem of a document. It unwraps
// to shared.ErrValidation.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "backup: invalid document: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

// Parse decodes a backup document. A body that is not a JSON object of the
// expected shape yields a ValidationError.
func Parse(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, &ValidationError{Problems: []Problem{{Table: "document", Index: -1, Missing: []string{err.Error()}}}}
	}
	return doc, nil
}

// Validate checks the version and every record of every table. All problems
// are reported, not only the first.
func Validate(doc Document) error {
	var problems []Problem
	if doc.Version == "" {
		problems = append(problems, Problem{Table: "document", Index: -1, Missing: []string{"version"}})
	} else if doc.Version != FormatVersion {
		problems = append(problems, Problem{Table: "document", Index: -1, Missing: []string{fmt.Sprintf("unsupported version %q", doc.Version)}})
	}
	for _, table := range Tables {
		fields := requiredFields[table]
		for i, rec := range *doc.Table(table) {
			var missing []string
			for _, f := range fields {
				if v, ok := rec[f]; !ok || v == nil || v == "" {
					missing = append(missing, f)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				problems = append(problems, Problem{Table: table, Index: i, Missing: missing})
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// columnDefaults fill columns that older backups omit but the schema
// requires.
var columnDefaults = map[string]map[string]any{
	TableParties:   {"last_order_seq": 0},
	TableMaterials: {"opening_stock": 0},
	TableOrders:    {"subtotal": 0, "deduction_total": 0, "net_total": 0},
}

// prepare fills schema defaults and infers ledger_synced for deductions
// exported before the flag existed: a line counts as synced when its order
// already has a ledger entry.
func prepare(doc *Document) {
	stamp := doc.ExportedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	for _, table := range Tables {
		defaults := columnDefaults[table]
		for _, rec := range *doc.Table(table) {
			for col, v := range defaults {
				if rec[col] == nil {
					rec[col] = v
				}
			}
			if table != TableOrderItems && rec["created_at"] == nil {
				rec["created_at"] = stamp
			}
		}
	}
	for _, rec := range doc.Materials {
		if rec["updated_at"] == nil {
			rec["updated_at"] = rec["created_at"]
		}
	}
	for _, rec := range doc.Orders {
		if rec["updated_at"] == nil {
			rec["updated_at"] = rec["created_at"]
		}
	}
	for _, rec := range doc.Transactions {
		if rec["transaction_date"] == nil {
			rec["transaction_date"] = rec["created_at"]
		}
	}

	linked := make(map[string]bool)
	for _, rec := range doc.Transactions {
		if id, ok := rec["order_id"].(string); ok && id != "" {
			linked[id] = true
		}
	}
	for _, rec := range doc.Deductions {
		if rec["ledger_synced"] != nil {
			continue
		}
		id, _ := rec["order_id"].(string)
		rec["ledger_synced"] = linked[id]
	}
}
