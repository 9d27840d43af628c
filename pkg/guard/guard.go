package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/metrics"
	"github.com/pixperk/pagelock/pkg/types"
)

// FileName is the default name of the backing lock file inside a data dir.
const FileName = "pagelock.lock"

// Sentinel is written to the backing file every time the guard is taken.
const Sentinel = "This is a locking file for synchronizing access to the page lock table. Please do not delete."

// Guard serializes every lease table read-modify-write sequence.
//
// The outermost Enter takes an in-process mutex and then an exclusive
// flock(2) on the backing file, so several processes sharing the file
// serialize as well. Nested Enter calls made with the context returned
// by the outer Enter only bump the depth counter. The hold travels in the
// context, which keeps reentrancy scoped to one logical operation: a
// concurrent caller without that context blocks until depth drops to 0.
type Guard struct {
	path   string
	logger hclog.Logger

	mu sync.Mutex // exclusive hold, taken by the outermost Enter

	stateMu sync.Mutex // protects depth and fl
	depth   int
	fl      *flock.Flock

	current atomic.Pointer[hold]
	seq     atomic.Uint64
}

// hold identifies one outermost acquisition
type hold struct {
	seq uint64
}

type holdKey struct{ g *Guard }

type Option func(*Guard)

func WithLogger(logger hclog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// New returns a guard backed by the file at path. The file is created on
// first Enter; nothing touches the filesystem here.
func New(path string, opts ...Option) *Guard {
	g := &Guard{
		path:   path,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewInDir returns a guard backed by FileName inside dir.
func NewInDir(dir string, opts ...Option) *Guard {
	return New(filepath.Join(dir, FileName), opts...)
}

func (g *Guard) Path() string {
	return g.path
}

// Enter acquires the critical section and returns the context that must
// be handed to Exit and to any nested guarded call. It blocks without a
// timeout; ctx cancellation is not observed while waiting.
func (g *Guard) Enter(ctx context.Context) (context.Context, error) {
	if g.heldBy(ctx) {
		g.stateMu.Lock()
		g.depth++
		g.stateMu.Unlock()
		return ctx, nil
	}

	start := time.Now()
	g.mu.Lock()

	fl := flock.New(g.path)
	if err := fl.Lock(); err != nil {
		g.mu.Unlock()
		g.logger.Error("failed to lock guard file", "path", g.path, "error", err)
		return ctx, fmt.Errorf("%w: lock %s: %w", types.ErrGuardAcquisition, g.path, err)
	}

	if err := os.WriteFile(g.path, []byte(Sentinel), 0o644); err != nil {
		_ = fl.Unlock()
		g.mu.Unlock()
		g.logger.Error("failed to write guard sentinel", "path", g.path, "error", err)
		return ctx, fmt.Errorf("%w: write %s: %w", types.ErrGuardAcquisition, g.path, err)
	}

	h := &hold{seq: g.seq.Add(1)}
	g.stateMu.Lock()
	g.fl = fl
	g.depth = 1
	g.stateMu.Unlock()
	g.current.Store(h)

	metrics.GuardWaitDuration.Observe(time.Since(start).Seconds())

	return context.WithValue(ctx, holdKey{g}, h), nil
}

// Exit undoes one Enter. The outermost Exit releases the file lock and
// the in-process mutex.
func (g *Guard) Exit(ctx context.Context) error {
	if !g.heldBy(ctx) {
		return types.ErrGuardNotHeld
	}

	g.stateMu.Lock()
	g.depth--
	if g.depth > 0 {
		g.stateMu.Unlock()
		return nil
	}
	fl := g.fl
	g.fl = nil
	g.current.Store(nil)
	g.stateMu.Unlock()

	err := fl.Unlock()
	g.mu.Unlock()
	if err != nil {
		g.logger.Error("failed to unlock guard file", "path", g.path, "error", err)
		return fmt.Errorf("unlock %s: %w", g.path, err)
	}
	return nil
}

// With runs fn inside the critical section. Exit runs on every path,
// including a panic in fn.
func (g *Guard) With(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, err = g.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if exitErr := g.Exit(ctx); err == nil {
			err = exitErr
		}
	}()
	return fn(ctx)
}

// Depth reports the current nesting level, 0 when the guard is free.
func (g *Guard) Depth() int {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	return g.depth
}

// Held reports whether ctx carries the guard's current hold.
func (g *Guard) Held(ctx context.Context) bool {
	return g.heldBy(ctx)
}

func (g *Guard) heldBy(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	h, ok := ctx.Value(holdKey{g}).(*hold)
	if !ok || h == nil {
		return false
	}
	return g.current.Load() == h
}
