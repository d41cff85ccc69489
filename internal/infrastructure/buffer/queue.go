// Package buffer keeps profile writes that could not reach the primary store
// so they can be replayed once connectivity returns. Writes collapse per user:
// a newer write for the same account replaces the older one, since the merged
// record already contains every earlier change.
package buffer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// PendingWrite is one deferred profile write awaiting replay.
type PendingWrite struct {
	UserID   string          `json:"user_id"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	QueuedAt time.Time       `json:"queued_at"`
}

// Queue is a bbolt-backed write-behind queue keyed by user id.
type Queue struct {
	db     *bolt.DB
	bucket []byte
}

// Open creates or opens the queue file and ensures its bucket exists.
func Open(path, bucket string) (*Queue, error) {
	if bucket == "" {
		bucket = "pending_writes"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Queue{db: db, bucket: []byte(bucket)}, nil
}

// Put records a pending write for the user, replacing any older one.
func (q *Queue) Put(w PendingWrite) error {
	if q == nil || q.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	if w.QueuedAt.IsZero() {
		w.QueuedAt = time.Now()
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(q.bucket).Put([]byte(w.UserID), raw)
	})
}

// Pending returns up to limit writes in key order without removing them.
func (q *Queue) Pending(limit int) ([]PendingWrite, error) {
	if q == nil || q.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}
	var writes []PendingWrite
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(q.bucket).Cursor()
		for k, v := c.First(); k != nil && len(writes) < limit; k, v = c.Next() {
			var w PendingWrite
			if err := json.Unmarshal(v, &w); err != nil {
				continue
			}
			writes = append(writes, w)
		}
		return nil
	})
	return writes, err
}

// Ack removes the write if it is still the one that was replayed. A write
// queued for the same user after the replay started stays in place.
func (q *Queue) Ack(w PendingWrite) error {
	if q == nil || q.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		raw := b.Get([]byte(w.UserID))
		if raw == nil {
			return nil
		}
		var stored PendingWrite
		if err := json.Unmarshal(raw, &stored); err == nil && !stored.QueuedAt.Equal(w.QueuedAt) {
			return nil
		}
		return b.Delete([]byte(w.UserID))
	})
}

// Retry bumps the attempt counter on a write that failed to replay. Like Ack,
// it leaves the slot alone if a newer write for the user landed in the
// meantime, and does not resurrect a write that was already removed.
func (q *Queue) Retry(w PendingWrite) error {
	if q == nil || q.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	w.Attempts++
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		cur := b.Get([]byte(w.UserID))
		if cur == nil {
			return nil
		}
		var stored PendingWrite
		if err := json.Unmarshal(cur, &stored); err == nil && !stored.QueuedAt.Equal(w.QueuedAt) {
			return nil
		}
		return b.Put([]byte(w.UserID), raw)
	})
}

// Len reports the number of users with pending writes.
func (q *Queue) Len() (int, error) {
	if q == nil || q.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(q.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Prune drops writes queued before the cutoff.
func (q *Queue) Prune(olderThan time.Time) error {
	if q == nil || q.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(q.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var w PendingWrite
			if err := json.Unmarshal(v, &w); err != nil {
				continue
			}
			if w.QueuedAt.Before(olderThan) {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Close closes the underlying database file.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}
