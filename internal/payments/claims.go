package payments

import (
	"context"
	"sync"
	"time"
)

type ClaimState int

const (
	// ClaimAcquired means the caller now owns the key and must Complete or Release it.
	ClaimAcquired ClaimState = iota
	ClaimPending
	ClaimDone
)

// ClaimStore records which payment keys are being credited or have been.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (ClaimState, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type memoryClaim struct {
	done    bool
	expires time.Time
}

// MemoryClaims is a process-local ClaimStore.
type MemoryClaims struct {
	mu   sync.Mutex
	keys map[string]memoryClaim
	now  func() time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{keys: make(map[string]memoryClaim), now: time.Now}
}

func (m *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if c, ok := m.keys[key]; ok && now.Before(c.expires) {
		if c.done {
			return ClaimDone, nil
		}
		return ClaimPending, nil
	}
	m.keys[key] = memoryClaim{expires: now.Add(ttl)}
	return ClaimAcquired, nil
}

func (m *MemoryClaims) Complete(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	m.keys[key] = memoryClaim{done: true, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryClaims) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}
