package repository

import (
	"context"
	"time"
)

// PasswordResetRepository stores short-lived password reset tokens keyed by
// the token value. Consumption is one-shot.
type PasswordResetRepository interface {
	Save(ctx context.Context, token, email string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
}
