package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/geethx/workshop/internal/model"
)

const transactionColumns = `id, item_id, item_code, item_name, action, user_id, user_name,
	checkout_person, project_name, notes, occurred_at`

// InsertTransaction appends an entry to the ledger. It takes a *sql.Tx so
// the entry is always written in the same transaction as the status change
// it records.
func InsertTransaction(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ItemID, t.ItemCode, t.ItemName, t.Action, t.UserID, t.UserName,
		nullString(t.CheckoutPerson), nullString(t.ProjectName), nullString(t.Notes), toDB(t.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// ListTransactions returns ledger entries matching the filter, newest first.
// Entries sharing a timestamp are ordered by ID, which is time-sortable.
func ListTransactions(ctx context.Context, q Querier, f model.TransactionFilter) ([]model.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.ItemID != 0 {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.Start != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, toDB(*f.Start))
	}
	if f.End != nil {
		where = append(where, "occurred_at <= ?")
		args = append(args, toDB(*f.End))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	txs := []model.Transaction{}
	for rows.Next() {
		var (
			t                      model.Transaction
			person, project, notes sql.NullString
			occurredAt             int64
		)
		err := rows.Scan(&t.ID, &t.ItemID, &t.ItemCode, &t.ItemName, &t.Action, &t.UserID, &t.UserName,
			&person, &project, &notes, &occurredAt)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.CheckoutPerson = person.String
		t.ProjectName = project.String
		t.Notes = notes.String
		t.Timestamp = fromDB(occurredAt)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// RecentTransactions returns the newest limit entries.
func RecentTransactions(ctx context.Context, q Querier, limit int) ([]model.Transaction, error) {
	return ListTransactions(ctx, q, model.TransactionFilter{Limit: limit})
}

// ItemHistory returns every entry recorded for an item, newest first.
func ItemHistory(ctx context.Context, q Querier, itemID int64) ([]model.Transaction, error) {
	return ListTransactions(ctx, q, model.TransactionFilter{ItemID: itemID})
}
