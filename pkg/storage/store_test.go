package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func lease(name, session string, created time.Time, ttl time.Duration) types.Lease {
	return types.Lease{
		Name:         name,
		SessionID:    session,
		OwnerTitle:   "user-" + session,
		OwnerAddress: "10.0.0.1",
		CreatedAt:    created,
		ExpiresAt:    created.Add(ttl),
	}
}

func sessionsOf(leases []types.Lease) []string {
	out := make([]string, 0, len(leases))
	for _, l := range leases {
		out = append(out, l.SessionID)
	}
	return out
}

// runs the same behaviour checks against every backend
func runStoreSuite(t *testing.T, newStore func(t *testing.T) LeaseStore) {
	ctx := context.Background()

	t.Run("InsertAndCount", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("page", "s1", base, 30*time.Second)))

		n, err := s.CountActive(ctx, "page", "s1", base)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountActive(ctx, "page", "s2", base)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		//expired at the instant of expiry
		n, err = s.CountActive(ctx, "page", "s1", base.Add(30*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("QueryActiveExcludesSession", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("page", "s1", base, 30*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("page", "s2", base.Add(time.Second), 30*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("other", "s3", base, 30*time.Second)))

		got, err := s.QueryActive(ctx, "page", "s1", base.Add(2*time.Second))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "s2", got[0].SessionID)
		assert.Equal(t, "user-s2", got[0].OwnerTitle)
		assert.Equal(t, "10.0.0.1", got[0].OwnerAddress)
		assert.True(t, base.Add(time.Second).Equal(got[0].CreatedAt))
		assert.True(t, base.Add(31*time.Second).Equal(got[0].ExpiresAt))

		got, err = s.QueryActive(ctx, "page", "nobody", base.Add(2*time.Second))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, sessionsOf(got))
	})

	t.Run("QueryActiveSkipsExpired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("page", "s1", base, 10*time.Second)))

		got, err := s.QueryActive(ctx, "page", "s2", base.Add(11*time.Second))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("UpdateExpiry", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("page", "s1", base, 10*time.Second)))
		require.NoError(t, s.UpdateExpiry(ctx, "page", "s1", base.Add(60*time.Second)))

		n, err := s.CountActive(ctx, "page", "s1", base.Add(30*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		//missing lease is a no-op
		require.NoError(t, s.UpdateExpiry(ctx, "page", "ghost", base.Add(60*time.Second)))
		n, err = s.CountActive(ctx, "page", "ghost", base)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("DeleteExpiredIsGlobal", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("a", "s1", base, 5*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("b", "s2", base, 5*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("b", "s3", base, 60*time.Second)))

		removed, err := s.DeleteExpired(ctx, base.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		got, err := s.QueryActive(ctx, "b", "nobody", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"s3"}, sessionsOf(got))

		got, err = s.QueryActive(ctx, "a", "nobody", base)
		require.NoError(t, err)
		assert.Empty(t, got, "swept lease must be gone even when queried with an earlier now")
	})

	t.Run("DeleteExpiredKeepsLeaseExpiringNow", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("a", "s1", base, 5*time.Second)))

		removed, err := s.DeleteExpired(ctx, base.Add(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("DeleteByName", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("page", "s1", base, 30*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("page", "s2", base, 30*time.Second)))

		require.NoError(t, s.DeleteByName(ctx, "page", "s1"))
		//idempotent
		require.NoError(t, s.DeleteByName(ctx, "page", "s1"))

		got, err := s.QueryActive(ctx, "page", "nobody", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"s2"}, sessionsOf(got))
	})

	t.Run("RejectsEmptyKeys", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CountActive(ctx, "", "s1", base)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		_, err = s.QueryActive(ctx, "page", "", base)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		assert.ErrorIs(t, s.Insert(ctx, lease("", "s1", base, time.Second)), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.UpdateExpiry(ctx, "page", "", base), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.DeleteByName(ctx, "", ""), types.ErrInvalidArgument)
	})

	t.Run("RejectsSeparatorInKeys", func(t *testing.T) {
		s := newStore(t)

		assert.ErrorIs(t, s.Insert(ctx, lease("doc\x00x", "s1", base, 30*time.Second)), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.Insert(ctx, lease("doc", "x\x00s1", base, 30*time.Second)), types.ErrInvalidArgument)
		_, err := s.CountActive(ctx, "doc", "x\x00s1", base)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		_, err = s.QueryActive(ctx, "doc\x00x", "s2", base)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		assert.ErrorIs(t, s.UpdateExpiry(ctx, "doc\x00x", "s1", base), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.DeleteByName(ctx, "doc", "x\x00s1"), types.ErrInvalidArgument)

		//nothing was written, so the plain name stays free
		got, err := s.QueryActive(ctx, "doc", "s2", base)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("QueryActiveMatchesWholeName", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, lease("doc", "s1", base, 30*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("doc2", "s2", base, 30*time.Second)))
		require.NoError(t, s.Insert(ctx, lease("do", "s3", base, 30*time.Second)))

		got, err := s.QueryActive(ctx, "doc", "nobody", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, sessionsOf(got))
	})
}
