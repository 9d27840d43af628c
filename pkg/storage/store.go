package storage

import (
	"context"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
)

// LeaseStore is the lease table the manager reads and mutates.
//
// Each call is atomic on its own; sequences of calls are made atomic by
// the manager's critical section. now is always supplied by the caller
// so every backend agrees on a single clock. A lease is active when its
// expiry is strictly after now.
type LeaseStore interface {
	// CountActive counts active leases on name held by sessionID.
	CountActive(ctx context.Context, name, sessionID string, now time.Time) (int, error)

	// QueryActive lists active leases on name held by anyone other than
	// excludeSessionID. Order is backend specific.
	QueryActive(ctx context.Context, name, excludeSessionID string, now time.Time) ([]types.Lease, error)

	// Insert stores a new lease.
	Insert(ctx context.Context, lease types.Lease) error

	// UpdateExpiry moves the expiry of the (name, sessionID) lease.
	UpdateExpiry(ctx context.Context, name, sessionID string, expiresAt time.Time) error

	// DeleteExpired removes every lease, whatever its name, that expired
	// before now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// DeleteByName removes the (name, sessionID) lease if present.
	DeleteByName(ctx context.Context, name, sessionID string) error

	Close() error
}

// supported backend names
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)
