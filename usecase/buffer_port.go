package usecase

import (
	"context"

	"github.com/riseandspeak/backend/domain"
)

// OperationBuffer abstracts the buffer processor so use cases stay storage-agnostic.
type OperationBuffer interface {
	BufferProfile(ctx context.Context, user *domain.User) error
}
