package genstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	gen  uint64
	seen time.Time // last snapshot or bump
}

// Local keeps generations in-process.
//
// Pruning an entry resets it to 0, which is only safe once no fetch that
// snapshotted it can still be running. Snapshots refresh an entry's age, so
// a retention well above the longest fetch is enough.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localEntry

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*Local)(nil)

// NewLocal returns a Local store. When both cleanupInterval and retention are
// positive a background loop prunes stale generations.
func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{gens: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.loop(cleanupInterval, retention)
	}
	return s
}

func (s *Local) loop(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e, ok := s.gens[k]
	if ok {
		e.seen = now
		s.gens[k] = e
	}
	s.mu.Unlock()
	return e.gen, nil
}

// SnapshotMany takes the lock once for all keys.
func (s *Local) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	now := time.Now()
	out := make(map[string]uint64, len(ks))
	s.mu.Lock()
	for _, k := range ks {
		e, ok := s.gens[k]
		if ok {
			e.seen = now
			s.gens[k] = e
		}
		out[k] = e.gen
	}
	s.mu.Unlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.seen = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	for k, e := range s.gens {
		if e.seen.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
