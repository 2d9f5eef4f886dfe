package lock

import (
	"context"
	"sync"
	"time"

	"github.com/gridwise/csms/internal/ports"
)

// LocalLockService is the in-process variant, used in tests and single-node
// deployments without Redis. TTL expiry is lazy: an expired holder loses the
// lock on the next Acquire.
type LocalLockService struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLockService() *LocalLockService {
	return &LocalLockService{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (s *LocalLockService) Acquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if expiry, ok := s.held[name]; ok && expiry.After(now) {
		return nil, nil
	}
	s.held[name] = now.Add(ttl)
	return &localLock{service: s, name: name}, nil
}

type localLock struct {
	service *LocalLockService
	name    string
}

func (l *localLock) Release(ctx context.Context) error {
	l.service.mu.Lock()
	defer l.service.mu.Unlock()
	delete(l.service.held, l.name)
	return nil
}
