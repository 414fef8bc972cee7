package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sentrapay/sentra/internal/risk"
)

// PostgresStore persists ledgers in the ledger_transactions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Load(ctx context.Context, senderID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, recipient, amount, occurred_at, risk_score, risk_category, blocked
		FROM ledger_transactions
		WHERE sender_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Transaction{}
	for rows.Next() {
		var tx Transaction
		var amount, category string
		if err := rows.Scan(&tx.ID, &tx.Recipient, &amount, &tx.Timestamp, &tx.RiskScore, &category, &tx.Blocked); err != nil {
			return nil, fmt.Errorf("failed to scan ledger transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		tx.Timestamp = tx.Timestamp.UTC()
		tx.RiskCategory = risk.Category(category)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Save(ctx context.Context, senderID string, txs ...Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO ledger_transactions (
			sender_id, id, recipient, amount, occurred_at, risk_score, risk_category, blocked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sender_id, id) DO UPDATE SET
			recipient     = EXCLUDED.recipient,
			amount        = EXCLUDED.amount,
			occurred_at   = EXCLUDED.occurred_at,
			risk_score    = EXCLUDED.risk_score,
			risk_category = EXCLUDED.risk_category,
			blocked       = EXCLUDED.blocked
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, tx := range txs {
		if _, err := stmt.ExecContext(ctx,
			senderID, tx.ID, tx.Recipient, tx.Amount.String(), tx.Timestamp,
			tx.RiskScore, string(tx.RiskCategory), tx.Blocked,
		); err != nil {
			return fmt.Errorf("failed to save ledger transaction %s: %w", tx.ID, err)
		}
	}
	return dbTx.Commit()
}

func (p *PostgresStore) Retain(ctx context.Context, senderID string, ids []string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM ledger_transactions
		WHERE sender_id = $1 AND NOT (id = ANY($2))
	`, senderID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to prune ledger: %w", err)
	}
	return nil
}
