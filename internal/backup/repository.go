package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockbook/stockbook/internal/platform/db"
)

// Repository reads and replaces the backed-up tables in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errRepoNotInitialised = errors.New("backup repository not initialised")

// Dump reads every table as JSON objects inside one snapshot.
func (r *Repository) Dump(ctx context.Context) (Document, error) {
	if r == nil || r.pool == nil {
		return Document{}, errRepoNotInitialised
	}
	var doc Document
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, table := range Tables {
			records, err := dumpTable(ctx, tx, table)
			if err != nil {
				return fmt.Errorf("backup: dump %s: %w", table, err)
			}
			*doc.Table(table) = records
		}
		return nil
	})
	return doc, err
}

func dumpTable(ctx context.Context, q db.DBTX, table string) ([]Record, error) {
	ident := pgx.Identifier{table}.Sanitize()
	rows, err := q.Query(ctx, `SELECT to_jsonb(t) FROM `+ident+` t ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Replace deletes every row of the backed-up tables in reverse order and
// inserts doc in forward order, all in one transaction.
func (r *Repository) Replace(ctx context.Context, doc Document) error {
	if r == nil || r.pool == nil {
		return errRepoNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for i := len(Tables) - 1; i >= 0; i-- {
			ident := pgx.Identifier{Tables[i]}.Sanitize()
			if _, err := tx.Exec(ctx, `DELETE FROM `+ident); err != nil {
				return fmt.Errorf("backup: clear %s: %w", Tables[i], err)
			}
		}
		for _, table := range Tables {
			records := *doc.Table(table)
			if len(records) == 0 {
				continue
			}
			payload, err := json.Marshal(records)
			if err != nil {
				return fmt.Errorf("backup: encode %s: %w", table, err)
			}
			ident := pgx.Identifier{table}.Sanitize()
			if _, err := tx.Exec(ctx, `INSERT INTO `+ident+` SELECT * FROM jsonb_populate_recordset(NULL::`+ident+`, $1::jsonb)`, payload); err != nil {
				return fmt.Errorf("backup: insert %s: %w", table, err)
			}
		}
		return nil
	})
}
