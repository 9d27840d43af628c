package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
)

// MemoryStore keeps leases in insertion order in process memory.
// It is the default backend and the one tests run the manager against.
type MemoryStore struct {
	mu     sync.RWMutex
	leases []*types.Lease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CountActive(ctx context.Context, name, sessionID string, now time.Time) (int, error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, l := range s.leases {
		if l.Name == name && l.SessionID == sessionID && l.IsActive(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) QueryActive(ctx context.Context, name, excludeSessionID string, now time.Time) ([]types.Lease, error) {
	if err := types.ValidateKey(name, excludeSessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Lease
	for _, l := range s.leases {
		if l.Name == name && l.SessionID != excludeSessionID && l.IsActive(now) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, lease types.Lease) error {
	if err := types.ValidateKey(lease.Name, lease.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	//copy so callers cannot mutate stored state
	leaseCopy := lease
	s.leases = append(s.leases, &leaseCopy)
	return nil
}

func (s *MemoryStore) UpdateExpiry(ctx context.Context, name, sessionID string, expiresAt time.Time) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.leases {
		if l.Name == name && l.SessionID == sessionID {
			l.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.leases[:0]
	removed := 0
	for _, l := range s.leases {
		if l.IsExpired(now) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	//drop references held past the new length
	for i := len(kept); i < len(s.leases); i++ {
		s.leases[i] = nil
	}
	s.leases = kept
	return removed, nil
}

func (s *MemoryStore) DeleteByName(ctx context.Context, name, sessionID string) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.leases[:0]
	for _, l := range s.leases {
		if l.Name == name && l.SessionID == sessionID {
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(s.leases); i++ {
		s.leases[i] = nil
	}
	s.leases = kept
	return nil
}

// returns a copy of every stored lease, expired ones included
func (s *MemoryStore) All() []types.Lease {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, *l)
	}
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}
