package scheduler

import (
	"context"
	"sync"
	"time"
)

// Locker grants a short-lived exclusive lease on key. ok is false when another
// holder has it; unlock releases only the caller's own lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// LocalLocker is a process-local Locker for single replica deployments.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	seq    uint64
	now    func() time.Time
}

type localLease struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, held := l.leases[key]; held && now.Before(lease.expires) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.leases[key] = localLease{token: token, expires: now.Add(ttl)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, held := l.leases[key]; held && lease.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return unlock, true, nil
}
