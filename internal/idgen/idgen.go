// Package idgen generates identifiers for attempts, transactions and requests.
package idgen

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random RFC 4122 UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a random UUID
// (e.g. "att_", "req_").
func WithPrefix(prefix string) string {
	return prefix + compact(uuid.New())
}

// TransactionID returns a human-readable transaction id in the form
// TXN-YYYYMMDD-XXXXXXXX, dated in UTC.
func TransactionID(now time.Time) string {
	suffix := strings.ToUpper(compact(uuid.New())[:8])
	return "TXN-" + now.UTC().Format("20060102") + "-" + suffix
}

func compact(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
