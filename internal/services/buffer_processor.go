package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/riseandspeak/backend/domain"
	"github.com/riseandspeak/backend/internal/infrastructure/buffer"
	"github.com/riseandspeak/backend/repository"
)

// Connectivity reports whether the primary stores are reachable.
type Connectivity interface {
	Online() bool
}

// ProcessorConfig controls how often the queue is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
}

// BufferProcessor replays queued profile writes against the user store on a
// cron schedule, skipping cycles while the stores are offline.
type BufferProcessor struct {
	queue  *buffer.Queue
	conn   Connectivity
	users  repository.UserRepository
	logger *zap.Logger
	cron   *cron.Cron
	cfg    ProcessorConfig
}

func NewBufferProcessor(
	queue *buffer.Queue,
	conn Connectivity,
	users repository.UserRepository,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *BufferProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	} else if cfg.Interval < time.Second {
		// the cron schedule resolves whole seconds only
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BufferProcessor{
		queue:  queue,
		conn:   conn,
		users:  users,
		logger: logger,
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	if _, err := bp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("queue drain failed", zap.Error(err))
		}
	}); err != nil {
		bp.logger.Error("failed to schedule queue drain", zap.String("schedule", schedule), zap.Error(err))
	}
	if cfg.Retention > 0 {
		if _, err := bp.cron.AddFunc("@hourly", func() {
			if err := bp.queue.Prune(time.Now().Add(-cfg.Retention)); err != nil {
				bp.logger.Warn("queue prune failed", zap.Error(err))
			}
		}); err != nil {
			bp.logger.Error("failed to schedule queue prune", zap.Error(err))
		}
	}

	return bp
}

// Start launches the cron scheduler.
func (bp *BufferProcessor) Start() {
	if bp == nil || bp.cron == nil {
		return
	}
	bp.cron.Start()
	bp.logger.Info("buffer processor started")
}

// Stop waits for any in-flight drain to finish, up to the context deadline.
func (bp *BufferProcessor) Stop(ctx context.Context) {
	if bp == nil || bp.cron == nil {
		return
	}
	done := bp.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	bp.logger.Info("buffer processor stopped")
}

// Drain replays one batch of pending writes.
func (bp *BufferProcessor) Drain(ctx context.Context) error {
	if bp == nil || bp.queue == nil {
		return nil
	}
	if bp.conn != nil && !bp.conn.Online() {
		bp.logger.Debug("skipping drain while offline")
		return nil
	}

	writes, err := bp.queue.Pending(bp.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, w := range writes {
		if err := bp.apply(ctx, w); err != nil {
			bp.logger.Error("pending write replay failed",
				zap.String("user_id", w.UserID),
				zap.Int("attempts", w.Attempts),
				zap.Error(err))

			if w.Attempts+1 >= bp.cfg.MaxRetries {
				bp.logger.Warn("dropping pending write after max retries", zap.String("user_id", w.UserID))
				_ = bp.queue.Ack(w)
				continue
			}
			if err := bp.queue.Retry(w); err != nil {
				bp.logger.Error("failed to requeue pending write", zap.Error(err))
			}
			continue
		}
		if err := bp.queue.Ack(w); err != nil {
			bp.logger.Warn("failed to ack pending write", zap.Error(err))
		}
	}
	return nil
}

// Enqueue tries the write immediately and falls back to queueing it.
func (bp *BufferProcessor) Enqueue(ctx context.Context, w buffer.PendingWrite) error {
	if bp == nil || bp.queue == nil {
		return fmt.Errorf("buffer processor not configured")
	}
	if bp.conn == nil || bp.conn.Online() {
		if err := bp.apply(ctx, w); err == nil {
			return nil
		} else {
			bp.logger.Warn("immediate replay failed, queueing write", zap.Error(err))
		}
	}
	return bp.queue.Put(w)
}

func (bp *BufferProcessor) apply(ctx context.Context, w buffer.PendingWrite) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var user domain.User
	if err := json.Unmarshal(w.Payload, &user); err != nil {
		return err
	}
	return bp.users.Update(ctx, &user)
}
