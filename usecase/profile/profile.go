package profile

import (
	"context"

	"go.uber.org/zap"

	"github.com/riseandspeak/backend/domain"
	"github.com/riseandspeak/backend/repository"
	"github.com/riseandspeak/backend/usecase"
)

type UseCase struct {
	users  repository.UserRepository
	buffer usecase.OperationBuffer
	logger *zap.Logger
}

func New(users repository.UserRepository, buffer usecase.OperationBuffer, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		users:  users,
		buffer: buffer,
		logger: logger,
	}
}

func (uc *UseCase) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	return uc.users.GetByID(ctx, userID)
}

// UpdateProfile merges the provided fields onto the stored record. The user's
// id and creation time cannot be touched through this path. If the primary
// store is down the merged record is buffered for later replay.
func (uc *UseCase) UpdateProfile(ctx context.Context, userID string, update *domain.ProfileUpdate) (*domain.User, error) {
	user, err := uc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.IsEmpty() {
		return user, nil
	}
	update.Apply(user)

	if err := uc.users.Update(ctx, user); err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return nil, err
		}
		if uc.buffer != nil {
			if bufErr := uc.buffer.BufferProfile(ctx, user); bufErr != nil {
				uc.logger.Error("failed to buffer profile update", zap.Error(bufErr))
				return nil, err
			}
			uc.logger.Warn("profile update buffered due to repository error", zap.Error(err))
			return user, nil
		}
		return nil, err
	}
	return user, nil
}
