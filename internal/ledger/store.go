package ledger

import "context"

// Store persists sender ledgers.
type Store interface {
	// Load returns up to limit transactions for a sender, newest first.
	Load(ctx context.Context, senderID string, limit int) ([]Transaction, error)
	// Save inserts or replaces transactions for a sender.
	Save(ctx context.Context, senderID string, txs ...Transaction) error
	// Retain deletes everything for the sender except the given IDs.
	Retain(ctx context.Context, senderID string, ids []string) error
}
