package services

import (
	"context"

	"github.com/rs/zerolog/log"
)

// UsageStore is the persistence surface of quota accounting.
type UsageStore interface {
	IncrementMonthlyUsage(ctx context.Context, userID string) error
}

// UsageLedger bumps the quota counter. Only successful score computations
// count against the monthly limit; failed ones cost nothing.
type UsageLedger struct {
	store UsageStore
}

func NewUsageLedger(store UsageStore) *UsageLedger {
	return &UsageLedger{store: store}
}

func (l *UsageLedger) IncrementOnSuccess(ctx context.Context, userID string) {
	if err := l.store.IncrementMonthlyUsage(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to increment usage counter")
	}
}
