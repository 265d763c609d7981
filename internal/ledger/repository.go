package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/platform/db"
)

// TxRepository exposes the ledger operations that must run inside one
// database transaction. Other packages obtain it through NewTxRepository so
// their writes share the same unit of work.
type TxRepository interface {
	GetMaterialForUpdate(ctx context.Context, id uuid.UUID) (Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	AdjustStock(ctx context.Context, materialID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	SetCurrentStock(ctx context.Context, materialID uuid.UUID, qty decimal.Decimal) error
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id uuid.UUID) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	CountTransactions(ctx context.Context) (int64, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queries struct {
	q db.DBTX
}

// NewTxRepository binds ledger queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &queries{q: tx}
}

var errRepoNotInitialised = errors.New("ledger repository not initialised")

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ListMaterials returns every material ordered by name.
func (r *Repository) ListMaterials(ctx context.Context) ([]Material, error) {
	if r == nil || r.pool == nil {
		return nil, errRepoNotInitialised
	}
	return (&queries{q: r.pool}).ListMaterials(ctx)
}

// GetMaterial loads one material.
func (r *Repository) GetMaterial(ctx context.Context, id uuid.UUID) (Material, error) {
	if r == nil || r.pool == nil {
		return Material{}, errRepoNotInitialised
	}
	row := r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1`, id)
	m, err := scanMaterial(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, ErrMaterialNotFound
	}
	return m, err
}

// ListParties returns every party ordered by name.
func (r *Repository) ListParties(ctx context.Context) ([]Party, error) {
	if r == nil || r.pool == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(order_prefix, ''), last_order_seq FROM parties ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	parties := []Party{}
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.Name, &p.OrderPrefix, &p.LastOrderSeq); err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// ListTransactions returns ledger entries matching filter in chronological order.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if r == nil || r.pool == nil {
		return nil, errRepoNotInitialised
	}
	return (&queries{q: r.pool}).ListTransactions(ctx, filter)
}

// CountTransactions returns the number of ledger rows.
func (r *Repository) CountTransactions(ctx context.Context) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errRepoNotInitialised
	}
	return (&queries{q: r.pool}).CountTransactions(ctx)
}

const materialColumns = `id, name, COALESCE(unit, ''), rate, opening_stock, current_stock, category_id, created_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.Rate, &m.OpeningStock, &m.CurrentStock, &m.CategoryID, &m.CreatedAt)
	return m, err
}

func (r *queries) GetMaterialForUpdate(ctx context.Context, id uuid.UUID) (Material, error) {
	row := r.q.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1 FOR UPDATE`, id)
	m, err := scanMaterial(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, ErrMaterialNotFound
	}
	return m, err
}

func (r *queries) ListMaterials(ctx context.Context) ([]Material, error) {
	rows, err := r.q.Query(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	materials := []Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (r *queries) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `INSERT INTO stock_transactions (id, material_id, transaction_type, quantity, transaction_date, source_type, reason_type, party_id, order_id, order_number, rate, remarks, balance_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,COALESCE($14, NOW())) RETURNING created_at`,
		tx.ID, tx.MaterialID, tx.Type, tx.Quantity, tx.TransactionDate, nullString(string(tx.SourceType)), nullString(string(tx.ReasonType)),
		tx.PartyID, tx.OrderID, nullString(tx.OrderNumber), tx.Rate, nullString(tx.Remarks), tx.BalanceAfter, nullTime(tx.CreatedAt)).Scan(&tx.CreatedAt)
	return tx, err
}

func (r *queries) AdjustStock(ctx context.Context, materialID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.q.QueryRow(ctx, `UPDATE materials SET current_stock = current_stock + $2, updated_at = NOW() WHERE id=$1 RETURNING current_stock`, materialID, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrMaterialNotFound
	}
	return qty, err
}

func (r *queries) SetCurrentStock(ctx context.Context, materialID uuid.UUID, qty decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `UPDATE materials SET current_stock=$2, updated_at=NOW() WHERE id=$1`, materialID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

const transactionColumns = `id, material_id, transaction_type, quantity, transaction_date, created_at, source_type, reason_type, party_id, order_id, order_number, rate, remarks, balance_after`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx                                  Transaction
		source, reason, orderNumber, remark *string
	)
	err := row.Scan(&tx.ID, &tx.MaterialID, &tx.Type, &tx.Quantity, &tx.TransactionDate, &tx.CreatedAt, &source, &reason,
		&tx.PartyID, &tx.OrderID, &orderNumber, &tx.Rate, &remark, &tx.BalanceAfter)
	if err != nil {
		return Transaction{}, err
	}
	tx.SourceType = SourceType(deref(source))
	tx.ReasonType = ReasonType(deref(reason))
	tx.OrderNumber = deref(orderNumber)
	tx.Remarks = deref(remark)
	return tx, nil
}

func (r *queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE id=$1 FOR UPDATE`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func (r *queries) UpdateTransaction(ctx context.Context, tx Transaction) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_transactions SET transaction_type=$2, quantity=$3, transaction_date=$4, remarks=$5 WHERE id=$1`,
		tx.ID, tx.Type, tx.Quantity, tx.TransactionDate, nullString(tx.Remarks))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *queries) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM stock_transactions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *queries) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	rows, err := r.q.Query(ctx, `SELECT `+transactionColumns+`
FROM stock_transactions
WHERE ($1::uuid IS NULL OR material_id=$1)
  AND ($2::uuid IS NULL OR party_id=$2)
  AND ($3::uuid IS NULL OR order_id=$3)
  AND transaction_date BETWEEN COALESCE($4::date, '-infinity'::date) AND COALESCE($5::date, 'infinity'::date)
ORDER BY transaction_date ASC, created_at ASC, id ASC`,
		filter.MaterialID, filter.PartyID, filter.OrderID, nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txs := []Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *queries) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions`).Scan(&n)
	return n, err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
