package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterWritesSentinel(t *testing.T) {
	g := NewInDir(t.TempDir())

	ctx, err := g.Enter(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(g.Path())
	require.NoError(t, err)
	assert.Equal(t, Sentinel, string(data))
	assert.Equal(t, 1, g.Depth())
	assert.True(t, g.Held(ctx))

	require.NoError(t, g.Exit(ctx))
	assert.Equal(t, 0, g.Depth())
	assert.False(t, g.Held(ctx), "hold must not outlive the outermost exit")
}

func TestReentrantEnter(t *testing.T) {
	g := NewInDir(t.TempDir())

	outer, err := g.Enter(context.Background())
	require.NoError(t, err)

	inner, err := g.Enter(outer)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Depth())

	innermost, err := g.Enter(inner)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Depth())

	require.NoError(t, g.Exit(innermost))
	require.NoError(t, g.Exit(inner))
	assert.Equal(t, 1, g.Depth())
	assert.True(t, g.Held(outer))

	require.NoError(t, g.Exit(outer))
	assert.Equal(t, 0, g.Depth())
}

func TestExitWithoutEnter(t *testing.T) {
	g := NewInDir(t.TempDir())
	err := g.Exit(context.Background())
	assert.ErrorIs(t, err, types.ErrGuardNotHeld)
}

func TestStaleContextDoesNotReenter(t *testing.T) {
	g := NewInDir(t.TempDir())

	stale, err := g.Enter(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.Exit(stale))

	//a fresh holder owns the guard now
	fresh, err := g.Enter(context.Background())
	require.NoError(t, err)
	defer g.Exit(fresh)

	assert.False(t, g.Held(stale))
	assert.ErrorIs(t, g.Exit(stale), types.ErrGuardNotHeld)
	assert.Equal(t, 1, g.Depth())
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	g := NewInDir(t.TempDir())

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.With(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "only one caller may be inside at a time")
	assert.Equal(t, 0, g.Depth())
}

func TestGuardsSharingAFileExcludeEachOther(t *testing.T) {
	dir := t.TempDir()
	first := NewInDir(dir)
	second := NewInDir(dir)

	ctx, err := first.Enter(context.Background())
	require.NoError(t, err)

	entered := make(chan struct{})
	go func() {
		sctx, err := second.Enter(context.Background())
		if err == nil {
			close(entered)
			_ = second.Exit(sctx)
		}
	}()

	select {
	case <-entered:
		t.Fatal("second guard entered while the file lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Exit(ctx))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second guard never entered after release")
	}
}

func TestEnterFailsWithoutWritableDir(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "missing", "dir", FileName))

	ctx, err := g.Enter(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGuardAcquisition)
	assert.Equal(t, 0, g.Depth())
	assert.False(t, g.Held(ctx))

	//a failed acquisition must leave the guard usable
	dir := t.TempDir()
	ok := NewInDir(dir)
	require.NoError(t, ok.With(context.Background(), func(context.Context) error { return nil }))
}

func TestWithReleasesOnError(t *testing.T) {
	g := NewInDir(t.TempDir())
	boom := errors.New("boom")

	err := g.With(context.Background(), func(ctx context.Context) error {
		assert.Equal(t, 1, g.Depth())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.Depth())

	//guard is free again
	require.NoError(t, g.With(context.Background(), func(context.Context) error { return nil }))
}

func TestWithReleasesOnPanic(t *testing.T) {
	g := NewInDir(t.TempDir())

	assert.Panics(t, func() {
		_ = g.With(context.Background(), func(ctx context.Context) error {
			panic("inside guarded region")
		})
	})
	assert.Equal(t, 0, g.Depth())

	done := make(chan struct{})
	go func() {
		_ = g.With(context.Background(), func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("guard still held after panic")
	}
}

func TestNestedWith(t *testing.T) {
	g := NewInDir(t.TempDir())

	err := g.With(context.Background(), func(ctx context.Context) error {
		return g.With(ctx, func(ctx context.Context) error {
			assert.Equal(t, 2, g.Depth())
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Depth())
}
