package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

func seed(t *testing.T, s *Storage, acc models.Account) {
	t.Helper()
	_, err := s.CreateIdentity(context.Background(), models.Identity{ID: acc.ID, Email: acc.Email})
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), &acc))
}

func TestStorage_GetReturnsCopy(t *testing.T) {
	s := New()
	seed(t, s, models.Account{ID: "a", Email: "a@example.com", ExpirationDate: models.TimePtr(time.Now())})

	got, err := s.GetAccount(context.Background(), "a")
	require.NoError(t, err)
	got.Hwid = "changed"
	*got.ExpirationDate = time.Time{}

	again, err := s.GetAccount(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, again.Hwid)
	assert.False(t, again.ExpirationDate.IsZero())
}

func TestStorage_UpdateAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, models.Account{ID: "a", Email: "a@example.com"})

	_, err := s.UpdateAccount(ctx, "a", func(a *models.Account) error {
		a.Hwid = "x"
		return licensing.ErrLimitReached
	})
	assert.ErrorIs(t, err, licensing.ErrLimitReached)
	got, _ := s.GetAccount(ctx, "a")
	assert.Empty(t, got.Hwid)

	updated, err := s.UpdateAccount(ctx, "a", func(a *models.Account) error {
		a.Hwid = "x"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "x", updated.Hwid)

	_, err = s.UpdateAccount(ctx, "missing", func(*models.Account) error { return nil })
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestStorage_UpdateAccountSerialized(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, models.Account{ID: "a", Email: "a@example.com"})

	const workers = 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateAccount(ctx, "a", func(a *models.Account) error {
				a.HwidChangeCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, workers, got.HwidChangeCount)
	assert.Empty(t, s.locks.locks)
}

func TestStorage_Queries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	seed(t, s, models.Account{ID: "a", Email: "a@example.com", CreatedAt: now.Add(-time.Hour), Hwid: "fp",
		SubscriptionType: models.SubscriptionOneMonth, ExpirationDate: models.TimePtr(now.Add(time.Hour))})
	seed(t, s, models.Account{ID: "b", Email: "b@example.com", CreatedAt: now,
		SubscriptionType: models.SubscriptionLifetime})

	list, err := s.ListAccounts(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	list, err = s.ListAccounts(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	byHwid, err := s.ListAccountsByHwid(ctx, "fp")
	require.NoError(t, err)
	require.Len(t, byHwid, 1)
	assert.Equal(t, "a", byHwid[0].ID)

	expiring, err := s.FindSubscriptionsExpiringBetween(ctx, now, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "a", expiring[0].ID)
}

func TestStorage_Identities(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, models.Account{ID: "a", Email: "a@example.com"})

	_, err := s.CreateIdentity(ctx, models.Identity{ID: "b", Email: "a@example.com"})
	assert.ErrorIs(t, err, storage.ErrEmailTaken)

	require.NoError(t, s.DeleteIdentity(ctx, "a"))
	_, err = s.GetAccount(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	_, err = s.GetIdentityByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, storage.ErrIdentityNotFound)
}

func TestStorage_AllowedHwids(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertAllowedHwid(ctx, models.AllowedHwid{Fingerprint: "old", Active: true,
		ExpiresAt: models.TimePtr(now.Add(-time.Second)), CreatedAt: now}))
	require.NoError(t, s.UpsertAllowedHwid(ctx, models.AllowedHwid{Fingerprint: "new", Active: true, CreatedAt: now}))

	got, err := s.DeactivateExpiredHwids(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, got)
	got, err = s.DeactivateExpiredHwids(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got)

	list, err := s.ListAllowedHwids(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.RemoveAllowedHwid(ctx, "old"))
	assert.ErrorIs(t, s.RemoveAllowedHwid(ctx, "old"), storage.ErrAllowedHwidNotFound)
	assert.ErrorIs(t, s.SetAllowedHwidActive(ctx, "old", true), storage.ErrAllowedHwidNotFound)
}
