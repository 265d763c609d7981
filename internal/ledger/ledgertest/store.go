// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
)

// Store keeps materials and ledger rows in memory. It implements
// ledger.TxRepository directly and ledger.RepositoryPort through WithTx.
// It is not safe for concurrent use.
type Store struct {
	Materials    map[uuid.UUID]ledger.Material
	Transactions []ledger.Transaction
	// Clock stamps created_at on inserted rows; it advances one millisecond per insert.
	Clock time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Materials: make(map[uuid.UUID]ledger.Material),
		Clock:     time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

// AddMaterial inserts m, assigning an ID when missing.
func (s *Store) AddMaterial(m ledger.Material) ledger.Material {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.Clock
	}
	s.Materials[m.ID] = m
	return m
}

// Stock returns the cached current_stock of a material.
func (s *Store) Stock(id uuid.UUID) decimal.Decimal {
	return s.Materials[id].CurrentStock
}

// Snapshot captures the store so a failed unit of work can be undone.
func (s *Store) Snapshot() func() {
	materials := make(map[uuid.UUID]ledger.Material, len(s.Materials))
	for k, v := range s.Materials {
		materials[k] = v
	}
	txs := append([]ledger.Transaction(nil), s.Transactions...)
	clock := s.Clock
	return func() {
		s.Materials = materials
		s.Transactions = txs
		s.Clock = clock
	}
}

// WithTx runs fn against the store and rolls back every change when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	rollback := s.Snapshot()
	if err := fn(ctx, s); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *Store) GetMaterialForUpdate(_ context.Context, id uuid.UUID) (ledger.Material, error) {
	m, ok := s.Materials[id]
	if !ok {
		return ledger.Material{}, ledger.ErrMaterialNotFound
	}
	return m, nil
}

func (s *Store) ListMaterials(_ context.Context) ([]ledger.Material, error) {
	out := make([]ledger.Material, 0, len(s.Materials))
	for _, m := range s.Materials {
		out = append(out, m)
	}
	sortMaterials(out)
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		s.Clock = s.Clock.Add(time.Millisecond)
		tx.CreatedAt = s.Clock
	}
	s.Transactions = append(s.Transactions, tx)
	return tx, nil
}

func (s *Store) AdjustStock(_ context.Context, materialID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	m, ok := s.Materials[materialID]
	if !ok {
		return decimal.Zero, ledger.ErrMaterialNotFound
	}
	m.CurrentStock = m.CurrentStock.Add(delta)
	s.Materials[materialID] = m
	return m.CurrentStock, nil
}

func (s *Store) SetCurrentStock(_ context.Context, materialID uuid.UUID, qty decimal.Decimal) error {
	m, ok := s.Materials[materialID]
	if !ok {
		return ledger.ErrMaterialNotFound
	}
	m.CurrentStock = qty
	s.Materials[materialID] = m
	return nil
}

func (s *Store) GetTransactionForUpdate(_ context.Context, id uuid.UUID) (ledger.Transaction, error) {
	for _, tx := range s.Transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

func (s *Store) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	for i := range s.Transactions {
		if s.Transactions[i].ID == tx.ID {
			s.Transactions[i].Type = tx.Type
			s.Transactions[i].Quantity = tx.Quantity
			s.Transactions[i].TransactionDate = tx.TransactionDate
			s.Transactions[i].Remarks = tx.Remarks
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (s *Store) DeleteTransaction(_ context.Context, id uuid.UUID) error {
	for i := range s.Transactions {
		if s.Transactions[i].ID == id {
			s.Transactions = append(s.Transactions[:i], s.Transactions[i+1:]...)
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	w := ledger.Window{Start: filter.From, End: filter.To}
	out := []ledger.Transaction{}
	for _, tx := range s.Transactions {
		if filter.MaterialID != nil && tx.MaterialID != *filter.MaterialID {
			continue
		}
		if filter.PartyID != nil && (tx.PartyID == nil || *tx.PartyID != *filter.PartyID) {
			continue
		}
		if filter.OrderID != nil && (tx.OrderID == nil || *tx.OrderID != *filter.OrderID) {
			continue
		}
		if !w.Contains(tx.TransactionDate) {
			continue
		}
		out = append(out, tx)
	}
	ledger.SortChronological(out)
	return out, nil
}

func (s *Store) CountTransactions(_ context.Context) (int64, error) {
	return int64(len(s.Transactions)), nil
}

func sortMaterials(ms []ledger.Material) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Name != ms[j].Name {
			return ms[i].Name < ms[j].Name
		}
		return ms[i].ID.String() < ms[j].ID.String()
	})
}
