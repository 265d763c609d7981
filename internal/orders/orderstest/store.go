// Package orderstest provides an in-memory order store for tests.
package orderstest

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/ledger/ledgertest"
	"github.com/stockbook/stockbook/internal/orders"
)

// Store keeps parties, orders and deductions next to an in-memory ledger.
type Store struct {
	*ledgertest.Store
	Parties    map[uuid.UUID]ledger.Party
	Orders     map[uuid.UUID]orders.Order
	Deductions map[uuid.UUID]orders.Deduction
	// seq orders deductions by insertion.
	seq   map[uuid.UUID]int
	nextN int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Store:      ledgertest.NewStore(),
		Parties:    make(map[uuid.UUID]ledger.Party),
		Orders:     make(map[uuid.UUID]orders.Order),
		Deductions: make(map[uuid.UUID]orders.Deduction),
		seq:        make(map[uuid.UUID]int),
	}
}

// AddParty inserts p, assigning an ID when missing.
func (s *Store) AddParty(p ledger.Party) ledger.Party {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.Parties[p.ID] = p
	return p
}

// ListParties returns every party ordered by name.
func (s *Store) ListParties(_ context.Context) ([]ledger.Party, error) {
	out := make([]ledger.Party, 0, len(s.Parties))
	for _, p := range s.Parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// WithTx runs fn and rolls back every change when it fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	rollbackLedger := s.Store.Snapshot()
	parties := cloneMap(s.Parties)
	ords := cloneMap(s.Orders)
	deds := cloneMap(s.Deductions)
	seq := cloneMap(s.seq)
	nextN := s.nextN
	if err := fn(ctx, s); err != nil {
		rollbackLedger()
		s.Parties, s.Orders, s.Deductions, s.seq, s.nextN = parties, ords, deds, seq, nextN
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetOrder loads an order with its lines.
func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (orders.Order, error) {
	o, ok := s.Orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o.Items = append([]orders.Item{}, o.Items...)
	o.Deductions = s.deductionsOf(id)
	return o, nil
}

// ListOrders returns headers newest first.
func (s *Store) ListOrders(_ context.Context, filter orders.ListFilter) ([]orders.Order, error) {
	w := ledger.Window{Start: filter.From, End: filter.To}
	out := []orders.Order{}
	for _, o := range s.Orders {
		if filter.PartyID != nil && (o.PartyID == nil || *o.PartyID != *filter.PartyID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if !w.Contains(o.OrderDate) {
			continue
		}
		o.Items, o.Deductions = nil, nil
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.After(out[j].OrderDate)
		}
		return out[i].OrderNumber > out[j].OrderNumber
	})
	return out, nil
}

func (s *Store) deductionsOf(orderID uuid.UUID) []orders.Deduction {
	out := []orders.Deduction{}
	for _, d := range s.Deductions {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

func (s *Store) NextOrderSeq(_ context.Context, partyID uuid.UUID) (string, int64, error) {
	p, ok := s.Parties[partyID]
	if !ok {
		return "", 0, orders.ErrPartyNotFound
	}
	p.LastOrderSeq++
	s.Parties[partyID] = p
	return p.OrderPrefix, p.LastOrderSeq, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (orders.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) InsertOrder(_ context.Context, o orders.Order) error {
	for _, existing := range s.Orders {
		if existing.OrderNumber == o.OrderNumber {
			return orders.ErrDuplicateOrderNumber
		}
	}
	o.Deductions = nil
	s.Orders[o.ID] = o
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, o orders.Order) error {
	current, ok := s.Orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.OrderNumber = current.OrderNumber
	o.Items = current.Items
	o.Deductions = nil
	s.Orders[o.ID] = o
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if _, ok := s.Orders[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(s.Orders, id)
	for did, d := range s.Deductions {
		if d.OrderID == id {
			delete(s.Deductions, did)
		}
	}
	return nil
}

func (s *Store) ReplaceItems(_ context.Context, orderID uuid.UUID, items []orders.Item) error {
	o, ok := s.Orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.Items = append([]orders.Item{}, items...)
	s.Orders[orderID] = o
	return nil
}

func (s *Store) InsertDeduction(_ context.Context, d orders.Deduction) error {
	s.nextN++
	s.seq[d.ID] = s.nextN
	s.Deductions[d.ID] = d
	return nil
}

func (s *Store) UpdateDeduction(_ context.Context, d orders.Deduction) error {
	s.Deductions[d.ID] = d
	return nil
}

func (s *Store) DeleteDeduction(_ context.Context, id uuid.UUID) error {
	delete(s.Deductions, id)
	return nil
}

func (s *Store) ListUnsyncedDeductions(_ context.Context) ([]orders.Deduction, error) {
	out := []orders.Deduction{}
	for _, d := range s.Deductions {
		if !d.LedgerSynced && d.Quantity.IsPositive() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}
