package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisRepo(t *testing.T) (*RedisRepository, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	return NewRedisRepository(client, "test:session:"), m
}

func testSession(id, user, device, hash string, issued time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    user,
		UserEmail: user + "@example.com",
		TokenHash: hash,
		DeviceID:  device,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}
}

func TestRedisRepository_CreateGet(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s := testSession("01A", "u1", "d1", "h1", now)
	require.NoError(t, repo.Create(ctx, s))
	require.Error(t, repo.Create(ctx, s), "token hash is unique")
	require.True(t, m.Exists("test:session:tok:h1"))

	got, err := repo.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "u1", got.UserID)
	require.True(t, got.IssuedAt.Equal(now))

	missing, err := repo.GetByTokenHash(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRedisRepository_RevokeIsCompareAndSwap(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", now)))

	used := now.Add(time.Minute)
	ok, err := repo.Revoke(ctx, "h1", &used)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Revoke(ctx, "h1", &used)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
	require.NotNil(t, got.LastUsedAt)
	require.True(t, got.LastUsedAt.Equal(used))

	ok, err = repo.Revoke(ctx, "unknown", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisRepository_ConcurrentRevokeSingleWinner(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", time.Now().UTC())))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Revoke(ctx, "h1", nil)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestRedisRepository_ListAndBulkRevoke(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, testSession("01C", "u1", "d3", "h3", base.Add(2*time.Second))))
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", base)))
	require.NoError(t, repo.Create(ctx, testSession("01B", "u1", "d2", "h2", base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, testSession("01D", "u2", "d1", "h4", base)))

	list, err := repo.ListUnrevoked(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []string{"01A", "01B", "01C"}, []string{list[0].ID, list[1].ID, list[2].ID})

	n, err := repo.RevokeForDevice(ctx, "u1", "d2")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = repo.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	list, err = repo.ListUnrevoked(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)

	other, err := repo.ListUnrevoked(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestRedisRepository_DeleteExpiredOrRevoked(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testSession("01A", "u1", "d1", "h1", now.Add(-2*time.Hour))
	revoked := testSession("01B", "u1", "d2", "h2", now)
	live := testSession("01C", "u1", "d3", "h3", now)
	for _, s := range []*Session{expired, revoked, live} {
		require.NoError(t, repo.Create(ctx, s))
	}
	_, err := repo.Revoke(ctx, "h2", nil)
	require.NoError(t, err)
	before, err := m.Get("test:session:tok:h3")
	require.NoError(t, err)

	n, err := repo.DeleteExpiredOrRevoked(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.False(t, m.Exists("test:session:tok:h1"))
	require.False(t, m.Exists("test:session:tok:h2"))
	after, err := m.Get("test:session:tok:h3")
	require.NoError(t, err)
	require.Equal(t, before, after)

	members, err := m.Members("test:session:user:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"h3"}, members)
}

func TestRedisRepository_WithService(t *testing.T) {
	repo, _ := newRedisRepo(t)
	svc := NewService(repo, Config{})
	ctx := context.Background()

	s1, err := svc.Create(ctx, alice, DeviceInfo{DeviceID: "deviceA"})
	require.NoError(t, err)
	s2, err := svc.Rotate(ctx, s1.RefreshToken, DeviceInfo{DeviceID: "deviceA"})
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, s1.RefreshToken, DeviceInfo{DeviceID: "deviceA"})
	require.ErrorIs(t, err, ErrTokenReuseDetected)
	_, err = svc.Rotate(ctx, s2.RefreshToken, DeviceInfo{DeviceID: "deviceA"})
	require.ErrorIs(t, err, ErrTokenReuseDetected)
}

func TestRedisRepository_OneActiveSessionPerDevice(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", now)))
	require.NoError(t, repo.Create(ctx, testSession("01B", "u1", "d2", "h2", now)))
	err := repo.Create(ctx, testSession("01C", "u1", "d1", "h3", now))
	require.ErrorIs(t, err, ErrActiveDeviceSession)
	require.False(t, m.Exists("test:session:tok:h3"))

	ok, err := repo.Revoke(ctx, "h1", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, m.Exists("test:session:active:u1:d1"))

	require.NoError(t, repo.Create(ctx, testSession("01C", "u1", "d1", "h3", now)))
	holder, err := m.Get("test:session:active:u1:d1")
	require.NoError(t, err)
	require.Equal(t, "h3", holder)
}

func TestRedisRepository_StaleDeviceSlotIsTakenOver(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	require.NoError(t, m.Set("test:session:active:u1:d1", "gone"))

	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", time.Now().UTC())))
	holder, err := m.Get("test:session:active:u1:d1")
	require.NoError(t, err)
	require.Equal(t, "h1", holder)
}

func TestRedisRepository_SweepReleasesDeviceSlot(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", now.Add(-2*time.Hour))))

	n, err := repo.DeleteExpiredOrRevoked(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.False(t, m.Exists("test:session:active:u1:d1"))
}

func TestRedisRepository_ConcurrentSameDeviceLogins(t *testing.T) {
	repo, _ := newRedisRepo(t)
	svc := NewService(repo, Config{MaxSessions: 1000})
	ctx := context.Background()

	for round := 0; round < 20; round++ {
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

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.True(t, errors.Is(err, ErrActiveDeviceSession), "unexpected error: %v", err)
		}
		require.Positive(t, succeeded)
		require.LessOrEqual(t, unrevokedOnDevice(t, repo, alice.ID, "phone"), 1, "round %d", round)
	}
}

func TestRedisRepository_ListPrunesStaleIndexMembers(t *testing.T) {
	repo, m := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, testSession("01A", "u1", "d1", "h1", now)))
	require.NoError(t, repo.Create(ctx, testSession("01B", "u1", "d2", "h2", now)))
	m.Del("test:session:tok:h1")

	list, err := repo.ListUnrevoked(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	members, err := m.Members("test:session:user:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"h2"}, members)
}
