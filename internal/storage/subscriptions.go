package storage

import (
	"context"
	"time"
)

type Subscription struct {
	PaymentID string
	UserID    string
	StartedAt time.Time
	ExpiresAt time.Time
	Amount    float64
	Currency  string
}

func (s *Store) InsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_subscriptions (payment_id, user_id, started_at, expires_at, amount, currency)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.PaymentID, sub.UserID, sub.StartedAt.Unix(), sub.ExpiresAt.Unix(), sub.Amount, sub.Currency)
	return err
}

// ExpireSubscriptions closes out any still-running subscriptions for the user
// by pulling their expiry back to now.
func (s *Store) ExpireSubscriptions(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE premium_subscriptions SET expires_at = ? WHERE user_id = ? AND expires_at > ?
	`, now.Unix(), userID, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
