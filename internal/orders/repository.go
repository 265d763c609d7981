package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/platform/db"
)

// TxRepository exposes order writes together with the ledger operations of
// the same transaction.
type TxRepository interface {
	ledger.TxRepository
	NextOrderSeq(ctx context.Context, partyID uuid.UUID) (prefix string, seq int64, err error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error)
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	ReplaceItems(ctx context.Context, orderID uuid.UUID, items []Item) error
	InsertDeduction(ctx context.Context, d Deduction) error
	UpdateDeduction(ctx context.Context, d Deduction) error
	DeleteDeduction(ctx context.Context, id uuid.UUID) error
	ListUnsyncedDeductions(ctx context.Context) ([]Deduction, error)
}

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger.TxRepository
	q db.DBTX
}

var errRepoNotInitialised = errors.New("orders repository not initialised")

// WithTx executes fn inside a repeatable-read transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), q: tx})
	})
}

// GetOrder loads an order with its items and deductions.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	if r == nil || r.pool == nil {
		return Order{}, errRepoNotInitialised
	}
	return loadOrder(ctx, r.pool, id, "")
}

// ListOrders returns order headers matching filter, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	if r == nil || r.pool == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`
FROM orders
WHERE ($1::uuid IS NULL OR party_id=$1)
  AND ($2 = '' OR status=$2)
  AND order_date BETWEEN COALESCE($3::date, '-infinity'::date) AND COALESCE($4::date, 'infinity'::date)
ORDER BY order_date DESC, created_at DESC`, filter.PartyID, string(filter.Status), nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const orderColumns = `id, order_number, party_id, order_date, status, subtotal, deduction_total, net_total, COALESCE(remarks, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.PartyID, &o.OrderDate, &o.Status, &o.Subtotal, &o.DeductionTotal, &o.NetTotal, &o.Remarks, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func loadOrder(ctx context.Context, q db.DBTX, id uuid.UUID, lock string) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, order_id, serial_no, particular, quantity, COALESCE(quantity_unit, ''), rate_per_dzn, total
FROM order_items WHERE order_id=$1 ORDER BY serial_no ASC`, id)
	if err != nil {
		return Order{}, err
	}
	o.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.SerialNo, &it.Particular, &it.Quantity, &it.QuantityUnit, &it.Rate, &it.Total); err != nil {
			rows.Close()
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	o.Deductions, err = queryDeductions(ctx, q, `WHERE order_id=$1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func queryDeductions(ctx context.Context, q db.DBTX, where string, args ...any) ([]Deduction, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, material_id, material_name, quantity, rate, amount, ledger_synced
FROM raw_material_deductions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Deduction{}
	for rows.Next() {
		var d Deduction
		if err := rows.Scan(&d.ID, &d.OrderID, &d.MaterialID, &d.MaterialName, &d.Quantity, &d.Rate, &d.Amount, &d.LedgerSynced); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepository) NextOrderSeq(ctx context.Context, partyID uuid.UUID) (string, int64, error) {
	var (
		prefix string
		seq    int64
	)
	err := r.q.QueryRow(ctx, `UPDATE parties SET last_order_seq = last_order_seq + 1 WHERE id=$1 RETURNING COALESCE(order_prefix, ''), last_order_seq`, partyID).Scan(&prefix, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, ErrPartyNotFound
	}
	return prefix, seq, err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return loadOrder(ctx, r.q, id, " FOR UPDATE")
}

func (r *txRepository) InsertOrder(ctx context.Context, o Order) error {
	_, err := r.q.Exec(ctx, `INSERT INTO orders (id, order_number, party_id, order_date, status, subtotal, deduction_total, net_total, remarks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())`,
		o.ID, o.OrderNumber, o.PartyID, o.OrderDate, string(o.Status), o.Subtotal, o.DeductionTotal, o.NetTotal, nullString(o.Remarks))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
	}
	return err
}

func (r *txRepository) UpdateOrder(ctx context.Context, o Order) error {
	tag, err := r.q.Exec(ctx, `UPDATE orders SET party_id=$2, order_date=$3, status=$4, subtotal=$5, deduction_total=$6, net_total=$7, remarks=$8, updated_at=NOW() WHERE id=$1`,
		o.ID, o.PartyID, o.OrderDate, string(o.Status), o.Subtotal, o.DeductionTotal, o.NetTotal, nullString(o.Remarks))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) ReplaceItems(ctx context.Context, orderID uuid.UUID, items []Item) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := r.q.Exec(ctx, `INSERT INTO order_items (id, order_id, serial_no, particular, quantity, quantity_unit, rate_per_dzn, total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, it.ID, orderID, it.SerialNo, it.Particular, it.Quantity, nullString(it.QuantityUnit), it.Rate, it.Total); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertDeduction(ctx context.Context, d Deduction) error {
	_, err := r.q.Exec(ctx, `INSERT INTO raw_material_deductions (id, order_id, material_id, material_name, quantity, rate, amount, ledger_synced, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`, d.ID, d.OrderID, d.MaterialID, d.MaterialName, d.Quantity, d.Rate, d.Amount, d.LedgerSynced)
	return err
}

func (r *txRepository) UpdateDeduction(ctx context.Context, d Deduction) error {
	_, err := r.q.Exec(ctx, `UPDATE raw_material_deductions SET material_id=$2, material_name=$3, quantity=$4, rate=$5, amount=$6, ledger_synced=$7 WHERE id=$1`,
		d.ID, d.MaterialID, d.MaterialName, d.Quantity, d.Rate, d.Amount, d.LedgerSynced)
	return err
}

func (r *txRepository) DeleteDeduction(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM raw_material_deductions WHERE id=$1`, id)
	return err
}

func (r *txRepository) ListUnsyncedDeductions(ctx context.Context) ([]Deduction, error) {
	return queryDeductions(ctx, r.q, `WHERE NOT ledger_synced AND quantity > 0 ORDER BY order_id, created_at ASC, id ASC`)
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
