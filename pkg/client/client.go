package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/pagelock/api/v1"
	"github.com/pixperk/pagelock/pkg/manager"
	"github.com/pixperk/pagelock/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type Client struct {
	conn   *grpc.ClientConn //nil when the caller owns the connection
	client pb.PageLockServiceClient

	sessionID    string
	ownerTitle   string
	ownerAddress string
	heartbeat    time.Duration
	clock        clock.Clock
	logger       hclog.Logger

	mu    sync.Mutex
	locks map[*Lock]struct{}
}

type Option func(*Client)

// session the leases are keyed by, a fresh UUID by default
func WithSessionID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// identity shown to other sessions in conflict messages
func WithOwner(title, address string) Option {
	return func(c *Client) {
		c.ownerTitle = title
		c.ownerAddress = address
	}
}

// refresh cadence for held locks and poll cadence for Wait
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// LockHeldError is returned by Acquire when other sessions hold the lock.
type LockHeldError struct {
	Name     string
	LockedBy string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("%s: %s held by %s", types.ErrLockHeld, e.Name, e.LockedBy)
}

func (e *LockHeldError) Unwrap() error {
	return types.ErrLockHeld
}

func New(addr string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := NewFromConn(conn, opts...)
	c.conn = conn
	return c, nil
}

// NewFromConn uses an existing connection; Close leaves it open.
func NewFromConn(conn grpc.ClientConnInterface, opts ...Option) *Client {
	title, _ := os.Hostname()
	c := &Client{
		client:     pb.NewPageLockServiceClient(conn),
		sessionID:  uuid.NewString(),
		ownerTitle: title,
		heartbeat:  manager.HeartbeatInterval(types.TTL),
		clock:      clock.NewClock(),
		logger:     hclog.NewNullLogger(),
		locks:      make(map[*Lock]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// Require makes one refresh/check call for name
func (c *Client) Require(ctx context.Context, name string) (*pb.RequireLockResponse, error) {
	resp, err := c.client.RequireLock(ctx, c.requireRequest(name))
	if err != nil {
		return nil, fmt.Errorf("require lock: %w", fromGRPCError(err))
	}
	return resp, nil
}

// Acquire takes the lock and keeps it alive until Release.
// A lock held by another session yields a *LockHeldError.
func (c *Client) Acquire(ctx context.Context, name string) (*Lock, error) {
	resp, err := c.Require(ctx, name)
	if err != nil {
		return nil, err
	}
	if !resp.HasLock {
		return nil, &LockHeldError{Name: name, LockedBy: resp.LockedBy}
	}

	l := newLock(c, name)
	c.mu.Lock()
	c.locks[l] = struct{}{}
	c.mu.Unlock()

	go l.heartbeatLoop()
	return l, nil
}

// Wait polls until the lock is granted or ctx is done.
func (c *Client) Wait(ctx context.Context, name string) (*Lock, error) {
	var l *Lock
	op := func() error {
		var err error
		l, err = c.Acquire(ctx, name)
		if errors.Is(err, types.ErrLockHeld) {
			c.logger.Trace("lock still held, waiting", "name", name, "error", err)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.heartbeat), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("wait for %s: %w", name, ctxErr)
		}
		return nil, err
	}
	return l, nil
}

// ActiveLocks lists live leases on name held by other sessions
func (c *Client) ActiveLocks(ctx context.Context, name string) ([]*pb.Lease, error) {
	resp, err := c.client.GetActiveLocks(ctx, &pb.GetActiveLocksRequest{
		LockName:  name,
		SessionId: c.sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("get active locks: %w", fromGRPCError(err))
	}
	return resp.Locks, nil
}

func (c *Client) Release(ctx context.Context, name string) error {
	_, err := c.client.ReleaseLock(ctx, &pb.ReleaseLockRequest{
		LockName:  name,
		SessionId: c.sessionID,
	})
	if err != nil {
		return fmt.Errorf("release lock: %w", fromGRPCError(err))
	}

	return nil
}

func (c *Client) Status(ctx context.Context) (*pb.GetStatusResponse, error) {
	return c.client.GetStatus(ctx, &pb.GetStatusRequest{})
}

// Close stops every heartbeat without releasing; the leases run out on
// their own.
func (c *Client) Close() error {
	c.mu.Lock()
	locks := make([]*Lock, 0, len(c.locks))
	for l := range c.locks {
		locks = append(locks, l)
	}
	c.mu.Unlock()

	for _, l := range locks {
		l.stop()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

func (c *Client) requireRequest(name string) *pb.RequireLockRequest {
	return &pb.RequireLockRequest{
		LockName:     name,
		OwnerTitle:   c.ownerTitle,
		OwnerAddress: c.ownerAddress,
		SessionId:    c.sessionID,
	}
}

func (c *Client) forget(l *Lock) {
	c.mu.Lock()
	delete(c.locks, l)
	c.mu.Unlock()
}

// maps status errors back onto the domain sentinels
func fromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch {
	case st.Code() == codes.InvalidArgument:
		return fmt.Errorf("%w: %w", types.ErrInvalidArgument, err)
	case st.Code() == codes.Unavailable && strings.HasPrefix(st.Message(), types.ErrGuardAcquisition.Error()):
		return fmt.Errorf("%w: %w", types.ErrGuardAcquisition, err)
	case st.Code() == codes.Internal && strings.HasPrefix(st.Message(), types.ErrStoreFailure.Error()):
		return fmt.Errorf("%w: %w", types.ErrStoreFailure, err)
	default:
		return err
	}
}
