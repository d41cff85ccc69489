package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/riseandspeak/backend/domain"
	"github.com/riseandspeak/backend/internal/infrastructure/buffer"
	"github.com/riseandspeak/backend/usecase"
)

// BufferBridge adapts the processor to the use case's buffering port.
type BufferBridge struct {
	processor *BufferProcessor
}

func NewBufferBridge(processor *BufferProcessor) *BufferBridge {
	return &BufferBridge{processor: processor}
}

func (b *BufferBridge) BufferProfile(ctx context.Context, user *domain.User) error {
	if b.processor == nil || user == nil {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return b.processor.Enqueue(ctx, buffer.PendingWrite{
		UserID:   user.ID,
		Payload:  payload,
		QueuedAt: time.Now(),
	})
}

var _ usecase.OperationBuffer = (*BufferBridge)(nil)
