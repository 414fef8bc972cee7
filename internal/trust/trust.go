// Package trust derives a sender's trust score from their ledger.
//
// The score is the share of ledger transactions whose risk score is below
// SafeThreshold, on a 0-100 scale. A sender with no history scores 100:
// there is no negative signal yet.
package trust

import (
	"math"
	"time"

	"github.com/sentrapay/sentra/internal/ledger"
)

// SafeThreshold is the risk score below which a transaction counts as safe.
const SafeThreshold = 0.35

// EmptyLedgerScore is the score of a sender with no transactions.
const EmptyLedgerScore = 100.0

// Tier is a human-readable trust level.
type Tier string

const (
	TierBronze   Tier = "Bronze"
	TierSilver   Tier = "Silver"
	TierGold     Tier = "Gold"
	TierPlatinum Tier = "Platinum"
)

// Tier lower bounds.
const (
	PlatinumMin = 95.0
	GoldMin     = 85.0
	SilverMin   = 70.0
)

// Summary is a computed trust score with its inputs.
type Summary struct {
	Score        float64   `json:"score"` // 0-100
	Tier         Tier      `json:"tier"`
	Safe         int       `json:"safe"`
	Total        int       `json:"total"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// Score computes the trust score of txs, rounded to one decimal.
func Score(txs []ledger.Transaction) float64 {
	if len(txs) == 0 {
		return EmptyLedgerScore
	}
	return ratio(countSafe(txs), len(txs))
}

// TierFor maps a score onto its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= PlatinumMin:
		return TierPlatinum
	case score >= GoldMin:
		return TierGold
	case score >= SilverMin:
		return TierSilver
	default:
		return TierBronze
	}
}

// Summarize computes the full summary for txs.
func Summarize(txs []ledger.Transaction) Summary {
	safe := countSafe(txs)
	score := EmptyLedgerScore
	if len(txs) > 0 {
		score = ratio(safe, len(txs))
	}
	return Summary{
		Score:        score,
		Tier:         TierFor(score),
		Safe:         safe,
		Total:        len(txs),
		CalculatedAt: time.Now().UTC(),
	}
}

func countSafe(txs []ledger.Transaction) int {
	n := 0
	for _, tx := range txs {
		if tx.RiskScore < SafeThreshold {
			n++
		}
	}
	return n
}

func ratio(safe, total int) float64 {
	s := float64(safe) * 100 / float64(total)
	s = math.Max(0, math.Min(100, s))
	return math.Round(s*10) / 10
}
