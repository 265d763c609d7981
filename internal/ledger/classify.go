package ledger

import "strings"

// Direction is the closed classification of a transaction type.
type Direction int

const (
	// Unclassified marks a type outside both synonym sets. Such entries are a
	// data error and never contribute to totals.
	Unclassified Direction = iota
	// Increase adds quantity to stock.
	Increase
	// Decrease removes quantity from stock.
	Decrease
)

func (d Direction) String() string {
	switch d {
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	default:
		return "unclassified"
	}
}

var increaseTypes = map[string]struct{}{
	"add":      {},
	"in":       {},
	"stock_in": {},
	"stockin":  {},
}

var decreaseTypes = map[string]struct{}{
	"reduce":          {},
	"out":             {},
	"order_deduction": {},
	"stock_out":       {},
	"stockout":        {},
}

// NormalizeType lower-cases and trims a raw transaction type.
func NormalizeType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Classify maps a raw type string, in any historical vocabulary, to a Direction.
func Classify(raw string) Direction {
	t := NormalizeType(raw)
	if _, ok := increaseTypes[t]; ok {
		return Increase
	}
	if _, ok := decreaseTypes[t]; ok {
		return Decrease
	}
	return Unclassified
}

// CanonicalType returns the type string new writes use for d.
func CanonicalType(d Direction) string {
	switch d {
	case Increase:
		return TypeIn
	case Decrease:
		return TypeOut
	default:
		return ""
	}
}
