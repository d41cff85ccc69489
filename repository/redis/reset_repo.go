package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/riseandspeak/backend/domain"
	"github.com/riseandspeak/backend/repository"
)

type resetRepository struct {
	client *redislib.Client
}

// NewPasswordResetRepository creates a Redis-backed reset token store.
func NewPasswordResetRepository(client *redislib.Client) repository.PasswordResetRepository {
	return &resetRepository{client: client}
}

func (r *resetRepository) Save(ctx context.Context, token, email string, ttl time.Duration) error {
	if token == "" || email == "" {
		return domain.ErrInvalidPayload
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return r.client.Set(ctx, r.key(token), email, ttl).Err()
}

// Consume returns the email bound to the token and invalidates it.
func (r *resetRepository) Consume(ctx context.Context, token string) (string, error) {
	email, err := r.client.GetDel(ctx, r.key(token)).Result()
	if err != nil {
		if err == redislib.Nil {
			return "", domain.ErrSessionNotFound
		}
		return "", err
	}
	return email, nil
}

func (r *resetRepository) key(token string) string {
	return fmt.Sprintf("pwreset:%s", token)
}
