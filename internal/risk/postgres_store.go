package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists verdicts in the risk_assessments table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed verdict store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, v *Verdict) error {
	factorsJSON, err := json.Marshal(v.Result.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, sender_id, destination, amount, score, category, decision,
			blocked, provenance, factors, remote_transaction_id, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
	`,
		v.ID,
		v.SenderID,
		v.Destination,
		v.Amount,
		v.Result.Score,
		string(v.Result.Category),
		string(v.Decision),
		v.Result.Blocked,
		string(v.Provenance),
		factorsJSON,
		v.Result.TransactionID,
		v.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int, opts ...ListOption) ([]*Verdict, error) {
	if limit <= 0 {
		limit = 50
	}
	o := applyListOpts(opts)

	query := `
		SELECT id, sender_id, destination, amount, score, category, decision,
		       blocked, provenance, factors, COALESCE(remote_transaction_id, ''), evaluated_at
		FROM risk_assessments
		WHERE sender_id = $1`
	args := []any{senderID}
	if o.cursor != nil {
		query += ` AND (evaluated_at, id) < ($2, $3)`
		args = append(args, o.cursor.At, o.cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY evaluated_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*Verdict{}
	for rows.Next() {
		var v Verdict
		var category, decision, provenance string
		var factorsJSON []byte
		if err := rows.Scan(
			&v.ID, &v.SenderID, &v.Destination, &v.Amount, &v.Result.Score,
			&category, &decision, &v.Result.Blocked, &provenance, &factorsJSON,
			&v.Result.TransactionID, &v.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		v.Result.Category = Category(category)
		v.Decision = Decision(decision)
		v.Provenance = Provenance(provenance)
		if err := json.Unmarshal(factorsJSON, &v.Result.Factors); err != nil {
			return nil, fmt.Errorf("failed to decode factors: %w", err)
		}
		if v.Result.Factors == nil {
			v.Result.Factors = []string{}
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}
