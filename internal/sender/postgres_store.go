package sender

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists profiles in the sender_profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, senderID string) (*Profile, error) {
	var p Profile
	var contacts, devices, common []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sender_id, display_name, contacts, known_devices,
		       transaction_count, trust_score, average_amount, common_destinations,
		       created_at, updated_at
		FROM sender_profiles
		WHERE sender_id = $1
	`, senderID).Scan(
		&p.SenderID, &p.DisplayName, &contacts, &devices,
		&p.TransactionCount, &p.TrustScore, &p.AverageAmount, &common,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sender profile: %w", err)
	}
	if err := json.Unmarshal(contacts, &p.Contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}
	if err := json.Unmarshal(devices, &p.KnownDevices); err != nil {
		return nil, fmt.Errorf("failed to decode known devices: %w", err)
	}
	if err := json.Unmarshal(common, &p.CommonDestinations); err != nil {
		return nil, fmt.Errorf("failed to decode common destinations: %w", err)
	}
	if p.KnownDevices == nil {
		p.KnownDevices = []string{}
	}
	if p.CommonDestinations == nil {
		p.CommonDestinations = []string{}
	}
	return &p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p *Profile) error {
	contacts, err := json.Marshal(nonNil(p.Contacts))
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	devices, err := json.Marshal(nonNil(p.KnownDevices))
	if err != nil {
		return fmt.Errorf("failed to marshal known devices: %w", err)
	}
	common, err := json.Marshal(nonNil(p.CommonDestinations))
	if err != nil {
		return fmt.Errorf("failed to marshal common destinations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sender_profiles (sender_id, display_name, contacts, known_devices,
			transaction_count, trust_score, average_amount, common_destinations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sender_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			contacts = EXCLUDED.contacts,
			known_devices = EXCLUDED.known_devices,
			transaction_count = EXCLUDED.transaction_count,
			trust_score = EXCLUDED.trust_score,
			average_amount = EXCLUDED.average_amount,
			common_destinations = EXCLUDED.common_destinations,
			updated_at = EXCLUDED.updated_at
	`,
		p.SenderID, p.DisplayName, contacts, devices,
		p.TransactionCount, p.TrustScore, p.AverageAmount, common,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sender profile: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
