package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", time.Now())))

	got, err := repo.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	got.Revoked = true

	again, err := repo.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.False(t, again.Revoked)
}

func TestMemoryRepository_DuplicateHash(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", time.Now())))
	require.Error(t, repo.Create(ctx, testSession("01B", "u1", "d2", "h1", time.Now())))
}

func TestMemoryRepository_DeleteBoundary(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	s := testSession("01A", "u1", "d1", "h1", now.Add(-time.Hour)) // expires exactly at now
	require.NoError(t, repo.Create(ctx, s))

	n, err := repo.DeleteExpiredOrRevoked(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "expiresAt == now is not strictly before now")

	n, err = repo.DeleteExpiredOrRevoked(ctx, now.Add(time.Nanosecond))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMemoryRepository_CreateSupersedesSameDevice(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", now)))
	require.NoError(t, repo.Create(ctx, testSession("01B", "u1", "d2", "h2", now)))
	require.NoError(t, repo.Create(ctx, testSession("01C", "u1", "d1", "h3", now)))

	list, err := repo.ListUnrevoked(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	old, err := repo.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.True(t, old.Revoked)
}

func unrevokedOnDevice(t *testing.T, repo Repository, userID, deviceID string) int {
	t.Helper()
	list, err := repo.ListUnrevoked(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, s := range list {
		if s.DeviceID == deviceID {
			n++
		}
	}
	return n
}

func TestService_ConcurrentSameDeviceLogins(t *testing.T) {
	svc, repo, _, _ := newTestService(t, Config{MaxSessions: 100})
	ctx := context.Background()

	for round := 0; round < 200; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Create(ctx, alice, DeviceInfo{DeviceID: "phone"})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, 1, unrevokedOnDevice(t, repo, alice.ID, "phone"), "round %d", round)
	}
}
