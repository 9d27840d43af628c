package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/guard"
	"github.com/pixperk/pagelock/pkg/metrics"
	"github.com/pixperk/pagelock/pkg/storage"
	tm "github.com/pixperk/pagelock/pkg/time"
	"github.com/pixperk/pagelock/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pixperk/pagelock/pkg/manager"

// holder timestamps in conflict messages
const HolderTimeLayout = "2006-01-02 15:04:05"

// manages the lease table
// critical :
// - every read-modify-write runs inside the guard
// - a session never conflicts with itself, asking again refreshes
// - expired leases of any name are swept before conflicts are checked
// - nothing is cached between calls, the store owns the records
type Manager struct {
	store  storage.LeaseStore
	guard  *guard.Guard
	clock  *tm.Clock
	ttl    time.Duration
	logger hclog.Logger
	tracer trace.Tracer
}

type Option func(*Manager)

// lease lifetime, defaults to types.TTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(clock *tm.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(store storage.LeaseStore, g *guard.Guard, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		guard:  g,
		clock:  tm.NewClock(),
		ttl:    types.TTL,
		logger: hclog.NewNullLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// refresh cadence that leaves room for one late heartbeat before expiry
func HeartbeatInterval(ttl time.Duration) time.Duration {
	return ttl * 2 / 3
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) HeartbeatInterval() time.Duration {
	return HeartbeatInterval(m.ttl)
}

// applies a command and returns the matching response struct
func (m *Manager) Apply(ctx context.Context, cmd types.Command) (any, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", types.ErrInvalidArgument)
	}
	m.logger.Trace("applying command", "type", cmd.Type().String())

	switch c := cmd.(type) {
	case types.RequireLockCmd:
		return m.RequireLock(ctx, c.LockName, c.OwnerTitle, c.OwnerAddress, c.SessionID)
	case types.GetActiveLocksCmd:
		locks, err := m.GetActiveLocks(ctx, c.LockName, c.SessionID)
		if err != nil {
			return nil, err
		}
		return GetActiveLocksResponse{Locks: locks}, nil
	case types.ReleaseLockCmd:
		if err := m.ReleaseLock(ctx, c.LockName, c.SessionID); err != nil {
			return nil, err
		}
		return ReleaseLockResponse{Released: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command type: %T", types.ErrInvalidArgument, cmd)
	}
}

// returned by RequireLock
// LockedBy is empty when the lock was granted
type RequireLockResponse struct {
	HasLock  bool
	LockedBy string
	Holders  []types.Lease
}

type GetActiveLocksResponse struct {
	Locks []types.Lease
}

type ReleaseLockResponse struct {
	Released bool
}

// grants, refreshes or denies the session's lease on name
func (m *Manager) RequireLock(ctx context.Context, name, ownerTitle, ownerAddress, sessionID string) (RequireLockResponse, error) {
	start := time.Now()
	resp, err := m.requireLock(ctx, name, ownerTitle, ownerAddress, sessionID)
	metrics.RequireLockDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.RequireLockTotal.WithLabelValues(metrics.StatusError).Inc()
	case resp.HasLock:
		metrics.RequireLockTotal.WithLabelValues(metrics.StatusGranted).Inc()
	default:
		metrics.RequireLockTotal.WithLabelValues(metrics.StatusConflict).Inc()
	}
	return resp, err
}

func (m *Manager) requireLock(ctx context.Context, name, ownerTitle, ownerAddress, sessionID string) (resp RequireLockResponse, err error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return resp, err
	}

	ctx, span := m.tracer.Start(ctx, "RequireLock", trace.WithAttributes(
		attribute.String("pagelock.name", name),
	))
	defer func() { endSpan(span, err) }()

	ctx, err = m.guard.Enter(ctx)
	if err != nil {
		return resp, err
	}
	defer func() {
		if exitErr := m.guard.Exit(ctx); exitErr != nil && err == nil {
			err = exitErr
		}
	}()

	//nested guarded call, shares the hold through ctx
	locks, err := m.GetActiveLocks(ctx, name, sessionID)
	if err != nil {
		return resp, err
	}
	if len(locks) > 0 {
		lockedBy := FormatHolders(locks)
		m.logger.Debug("lock held by other sessions", "name", name, "session", sessionID, "locked_by", lockedBy)
		span.SetAttributes(attribute.Bool("pagelock.granted", false))
		return RequireLockResponse{
			HasLock:  false,
			LockedBy: lockedBy,
			Holders:  locks,
		}, nil
	}

	now := m.clock.Now()
	expiresAt := now.Add(m.ttl)

	count, err := m.store.CountActive(ctx, name, sessionID, now)
	if err != nil {
		return resp, m.storeErr("count active", err)
	}

	if count > 0 {
		if err := m.store.UpdateExpiry(ctx, name, sessionID, expiresAt); err != nil {
			return resp, m.storeErr("update expiry", err)
		}
		metrics.LeaseRefreshTotal.Inc()
		m.logger.Trace("lease refreshed", "name", name, "session", sessionID, "expires_at", expiresAt)
	} else {
		//a lease expiring exactly now is neither active nor swept yet
		if err := m.store.DeleteByName(ctx, name, sessionID); err != nil {
			return resp, m.storeErr("delete stale", err)
		}
		err := m.store.Insert(ctx, types.Lease{
			Name:         name,
			SessionID:    sessionID,
			OwnerTitle:   ownerTitle,
			OwnerAddress: ownerAddress,
			CreatedAt:    now,
			ExpiresAt:    expiresAt,
		})
		if err != nil {
			return resp, m.storeErr("insert", err)
		}
		metrics.LeaseCreateTotal.Inc()
		m.logger.Debug("lease created", "name", name, "session", sessionID, "owner", ownerTitle, "expires_at", expiresAt)
	}

	span.SetAttributes(attribute.Bool("pagelock.granted", true))
	return RequireLockResponse{HasLock: true}, nil
}

// sweeps expired leases everywhere, then lists active leases on name
// held by sessions other than sessionID
func (m *Manager) GetActiveLocks(ctx context.Context, name, sessionID string) (locks []types.Lease, err error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return nil, err
	}

	ctx, span := m.tracer.Start(ctx, "GetActiveLocks", trace.WithAttributes(
		attribute.String("pagelock.name", name),
	))
	defer func() { endSpan(span, err) }()

	ctx, err = m.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if exitErr := m.guard.Exit(ctx); exitErr != nil && err == nil {
			err = exitErr
		}
	}()

	now := m.clock.Now()

	swept, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return nil, m.storeErr("delete expired", err)
	}
	if swept > 0 {
		metrics.LeaseSweepTotal.Add(float64(swept))
		m.logger.Debug("swept expired leases", "count", swept)
	}

	locks, err = m.store.QueryActive(ctx, name, sessionID, now)
	if err != nil {
		return nil, m.storeErr("query active", err)
	}
	return locks, nil
}

// drops the session's lease on name, a missing lease is not an error
func (m *Manager) ReleaseLock(ctx context.Context, name, sessionID string) (err error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	ctx, span := m.tracer.Start(ctx, "ReleaseLock", trace.WithAttributes(
		attribute.String("pagelock.name", name),
	))
	defer func() { endSpan(span, err) }()

	return m.guard.With(ctx, func(ctx context.Context) error {
		if err := m.store.DeleteByName(ctx, name, sessionID); err != nil {
			return m.storeErr("delete by name", err)
		}
		metrics.ReleaseLockTotal.Inc()
		m.logger.Debug("lease released", "name", name, "session", sessionID)
		return nil
	})
}

// renders holders as "title (address) created", comma separated, in the
// order the store returned them
func FormatHolders(leases []types.Lease) string {
	parts := make([]string, 0, len(leases))
	for _, l := range leases {
		parts = append(parts, fmt.Sprintf("%s (%s) %s", l.OwnerTitle, l.OwnerAddress, l.CreatedAt.Format(HolderTimeLayout)))
	}
	return strings.Join(parts, ", ")
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, types.ErrInvalidArgument) {
		return err
	}
	m.logger.Error("lease store operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", types.ErrStoreFailure, op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
