// Package todoapi is an example todo backend stored in bbolt. It can add
// latency and fail writes at random to exercise optimistic updates.
package todoapi

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/querycache/codec"
)

type Todo struct {
	ID        string    `json:"id" msgpack:"id"`
	Text      string    `json:"text" msgpack:"text"`
	Done      bool      `json:"done" msgpack:"done"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

var (
	ErrNotFound = errors.New("todoapi: not found")
	ErrInjected = errors.New("todoapi: injected failure")
)

type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Latency is added to every call.
	Latency time.Duration
	// FailRate in [0,1] is the chance that a write fails with ErrInjected.
	FailRate float64
}

// Store is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	bucket []byte
	codec  codec.Codec[Todo]

	mu       sync.RWMutex
	latency  time.Duration
	failRate float64
}

// Open initializes or opens a Store at the given path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte("todos")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:       db,
		bucket:   bucket,
		codec:    codec.Msgpack[Todo]{},
		latency:  opts.Latency,
		failRate: opts.FailRate,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetFailRate changes the injected write failure rate.
func (s *Store) SetFailRate(r float64) {
	s.mu.Lock()
	s.failRate = r
	s.mu.Unlock()
}

// wait applies the configured latency and, for writes, the injected
// failure rate.
func (s *Store) wait(ctx context.Context, write bool) error {
	s.mu.RLock()
	latency, failRate := s.latency, s.failRate
	s.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if write && failRate > 0 && rand.Float64() < failRate {
		return ErrInjected
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context) ([]Todo, error) {
	if err := s.wait(ctx, false); err != nil {
		return nil, err
	}
	var out []Todo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(_, v []byte) error {
			t, err := s.codec.Decode(v)
			if err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// v7 ids sort by creation time; keep that order explicit anyway
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetOne(ctx context.Context, id string) (Todo, error) {
	if err := s.wait(ctx, false); err != nil {
		return Todo{}, err
	}
	var out Todo
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		t, err := s.codec.Decode(v)
		out = t
		return err
	})
	return out, err
}

// Add stores t. An empty ID is replaced by a new time-ordered UUID.
func (s *Store) Add(ctx context.Context, t Todo) (Todo, error) {
	if err := s.wait(ctx, true); err != nil {
		return Todo{}, err
	}
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Todo{}, err
		}
		t.ID = id.String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.put(t, false)
}

func (s *Store) Update(ctx context.Context, t Todo) (Todo, error) {
	if err := s.wait(ctx, true); err != nil {
		return Todo{}, err
	}
	return s.put(t, true)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.wait(ctx, true); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// put writes t. Updates keep the stored CreatedAt.
func (s *Store) put(t Todo, mustExist bool) (Todo, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if mustExist {
			old := b.Get([]byte(t.ID))
			if old == nil {
				return ErrNotFound
			}
			prev, err := s.codec.Decode(old)
			if err != nil {
				return err
			}
			t.CreatedAt = prev.CreatedAt
		}
		v, err := s.codec.Encode(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(t.ID), v)
	})
	if err != nil {
		return Todo{}, err
	}
	return t, nil
}
