// Package monitor periodically probes the service's dependencies so the
// health endpoint and the write-behind queue can tell online from offline.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riseandspeak/backend/internal/infrastructure/buffer"
)

// Health is a point-in-time view of dependency reachability.
type Health struct {
	Postgres      bool      `json:"postgres"`
	Redis         bool      `json:"redis"`
	Queue         bool      `json:"queue"`
	PendingWrites int       `json:"pending_writes"`
	CheckedAt     time.Time `json:"checked_at"`
}

type Monitor struct {
	pg    *pgxpool.Pool
	redis *redislib.Client
	queue *buffer.Queue

	interval time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	health Health

	stop chan struct{}
	once sync.Once
}

func New(pg *pgxpool.Pool, redis *redislib.Client, queue *buffer.Queue, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		pg:       pg,
		redis:    redis,
		queue:    queue,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start probes once immediately, then keeps probing in the background.
func (m *Monitor) Start() {
	m.probe()
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probe()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Online reports whether both primary stores answered the last probe.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health.Postgres && m.health.Redis
}

// Snapshot returns the most recent probe result.
func (m *Monitor) Snapshot() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *Monitor) probe() {
	h := Health{CheckedAt: time.Now()}

	if m.pg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		h.Postgres = m.pg.Ping(ctx) == nil
		cancel()
	}
	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h.Redis = m.redis.Ping(ctx).Err() == nil
		cancel()
	}
	if m.queue != nil {
		n, err := m.queue.Len()
		if err != nil {
			m.logger.Warn("queue length check failed", zap.Error(err))
		} else {
			h.Queue = true
			h.PendingWrites = n
		}
	}

	m.mu.Lock()
	m.health = h
	m.mu.Unlock()
}
