package admin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/hwid"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/admin"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/allowlist"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage/memory"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return now }

type IdentityMock struct {
	mock.Mock
}

func (m *IdentityMock) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *IdentityMock) DeleteIdentity(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type recorder struct {
	events []models.LicenseEvent
}

func (r *recorder) Notify(_ context.Context, e models.LicenseEvent) {
	r.events = append(r.events, e)
}

type fixture struct {
	store    *memory.Storage
	identity *IdentityMock
	events   *recorder
	svc      *admin.Service
}

func setup(t *testing.T, opts ...admin.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), identity: new(IdentityMock), events: &recorder{}}

	for _, acc := range []*models.Account{
		{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin, SubscriptionType: models.SubscriptionNone},
		{ID: "mod-1", Email: "mod@example.com", Role: models.RoleModerator, SubscriptionType: models.SubscriptionNone},
		{ID: "user-1", Email: "user@example.com", Role: models.RoleUser, SubscriptionType: models.SubscriptionOneMonth,
			ExpirationDate: models.TimePtr(now.Add(5 * licensing.Day)), Hwid: strings.Repeat("a", 64),
			HwidChangeCount: 3, LastHwidChangeDate: models.TimePtr(now.Add(-time.Hour))},
	} {
		require.NoError(t, f.store.CreateAccount(ctx, acc))
	}

	list := allowlist.New(newNoopLogger(), f.store, allowlist.WithClock(clock))
	opts = append([]admin.Option{admin.WithClock(clock), admin.WithNotifier(f.events)}, opts...)
	f.svc = admin.New(newNoopLogger(), f.store, f.identity, list, opts...)
	return f
}

func (f *fixture) account(t *testing.T, id string) *models.Account {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestService_Gate(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
	}{
		{name: "missing actor", actorID: ""},
		{name: "unknown actor", actorID: "ghost"},
		{name: "regular user", actorID: "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := f.svc.ResetHwidCounter(context.Background(), tt.actorID, "user-1")
			assert.ErrorIs(t, err, licensing.ErrUnauthorized)
			assert.Equal(t, 3, f.account(t, "user-1").HwidChangeCount)
			assert.Empty(t, f.events.events)
		})
	}
}

func TestService_ResetHwidCounter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	acc, err := f.svc.ResetHwidCounter(ctx, "mod-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, acc.HwidChangeCount)
	assert.Nil(t, acc.LastHwidChangeDate)

	// повторный сброс при нулевом счётчике тоже успешен
	_, err = f.svc.ResetHwidCounter(ctx, "mod-1", "user-1")
	require.NoError(t, err)

	stored := f.account(t, "user-1")
	assert.Equal(t, 0, stored.HwidChangeCount)
	assert.Nil(t, stored.LastHwidChangeDate)
	require.Len(t, f.events.events, 2)
	assert.Equal(t, models.EventAccountUpdated, f.events.events[0].Type)
	assert.Equal(t, "resetHwidCounter", f.events.events[0].Action)
	assert.Equal(t, "mod-1", f.events.events[0].ActorID)
}

func TestService_ResetHwidCounter_UnknownTarget(t *testing.T) {
	f := setup(t)
	_, err := f.svc.ResetHwidCounter(context.Background(), "admin-1", "ghost")
	assert.ErrorIs(t, err, licensing.ErrNotFound)

	_, err = f.svc.ResetHwidCounter(context.Background(), "admin-1", "")
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)
}

func TestService_ExtendExpiration(t *testing.T) {
	tests := []struct {
		name     string
		days     int
		wantKind licensing.Kind
		wantExp  time.Time
	}{
		{name: "stacks on future expiration", days: 10, wantExp: now.Add(15 * licensing.Day)},
		{name: "zero days", days: 0, wantKind: licensing.KindInvalidArgument},
		{name: "negative days", days: -3, wantKind: licensing.KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			acc, err := f.svc.ExtendExpiration(context.Background(), "admin-1", "user-1", tt.days)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, licensing.KindOf(err))
				assert.True(t, now.Add(5*licensing.Day).Equal(*f.account(t, "user-1").ExpirationDate))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantExp.Equal(*acc.ExpirationDate))
		})
	}
}

func TestService_AssignSubscription_Replaces(t *testing.T) {
	f := setup(t)

	acc, err := f.svc.AssignSubscription(context.Background(), "mod-1", "user-1", models.SubscriptionThreeMonths)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionThreeMonths, acc.SubscriptionType)
	assert.True(t, now.Add(90*licensing.Day).Equal(*acc.ExpirationDate))
	assert.True(t, now.Equal(*acc.PurchaseDate))

	acc, err = f.svc.AssignSubscription(context.Background(), "mod-1", "user-1", models.SubscriptionLifetime)
	require.NoError(t, err)
	assert.Nil(t, acc.ExpirationDate)

	_, err = f.svc.AssignSubscription(context.Background(), "mod-1", "user-1", models.SubscriptionNone)
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)
}

func TestService_SetHwid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	acc, err := f.svc.SetHwid(ctx, "admin-1", "user-1", "RAW-VALUE")
	require.NoError(t, err)
	assert.Equal(t, "RAW-VALUE", acc.Hwid)
	assert.Equal(t, 3, acc.HwidChangeCount)

	acc, err = f.svc.SetHwid(ctx, "admin-1", "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, acc.Hwid)
}

func TestService_EditAccount(t *testing.T) {
	lifetime := models.SubscriptionLifetime
	bogus := models.SubscriptionType("weekly")
	adminRole := models.RoleAdmin
	userRole := models.RoleUser
	badRole := models.Role("root")
	empty := ""
	purchase := now.Add(-licensing.Day)

	tests := []struct {
		name     string
		actorID  string
		targetID string
		patch    models.AccountPatch
		wantKind licensing.Kind
		check    func(t *testing.T, acc *models.Account)
	}{
		{
			name:     "switch to lifetime clears expiration",
			actorID:  "mod-1",
			targetID: "user-1",
			patch:    models.AccountPatch{SubscriptionType: &lifetime, Hwid: &empty},
			check: func(t *testing.T, acc *models.Account) {
				assert.Equal(t, models.SubscriptionLifetime, acc.SubscriptionType)
				assert.Nil(t, acc.ExpirationDate)
				assert.Empty(t, acc.Hwid)
			},
		},
		{
			name:     "explicit dates",
			actorID:  "mod-1",
			targetID: "user-1",
			patch: models.AccountPatch{
				PurchaseDate:   models.NullableTime{Set: true, Time: &purchase},
				ExpirationDate: models.NullableTime{Set: true},
			},
			check: func(t *testing.T, acc *models.Account) {
				assert.True(t, purchase.Equal(*acc.PurchaseDate))
				assert.Nil(t, acc.ExpirationDate)
				assert.Equal(t, models.SubscriptionOneMonth, acc.SubscriptionType)
			},
		},
		{
			name:     "admin grants admin",
			actorID:  "admin-1",
			targetID: "user-1",
			patch:    models.AccountPatch{Role: &adminRole},
			check: func(t *testing.T, acc *models.Account) {
				assert.Equal(t, models.RoleAdmin, acc.Role)
			},
		},
		{
			name:     "moderator cannot grant admin",
			actorID:  "mod-1",
			targetID: "user-1",
			patch:    models.AccountPatch{Role: &adminRole},
			wantKind: licensing.KindUnauthorized,
		},
		{
			name:     "moderator cannot demote admin",
			actorID:  "mod-1",
			targetID: "admin-1",
			patch:    models.AccountPatch{Role: &userRole},
			wantKind: licensing.KindUnauthorized,
		},
		{
			name:     "unknown role",
			actorID:  "admin-1",
			targetID: "user-1",
			patch:    models.AccountPatch{Role: &badRole},
			wantKind: licensing.KindInvalidArgument,
		},
		{
			name:     "unknown subscription type",
			actorID:  "admin-1",
			targetID: "user-1",
			patch:    models.AccountPatch{SubscriptionType: &bogus},
			wantKind: licensing.KindInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			before := f.account(t, tt.targetID)

			acc, err := f.svc.EditAccount(context.Background(), tt.actorID, tt.targetID, tt.patch)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, licensing.KindOf(err))
				assert.Equal(t, before, f.account(t, tt.targetID))
				return
			}
			require.NoError(t, err)
			tt.check(t, acc)
			assert.Equal(t, acc, f.account(t, tt.targetID))
		})
	}
}

func TestService_CreateAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	exp := now.Add(30 * licensing.Day)

	f.identity.On("CreateIdentity", mock.Anything, "new@example.com", "password123").Return("new-1", nil).Once()

	acc, err := f.svc.CreateAccount(ctx, "mod-1", models.NewAccount{
		Email:            "New@Example.com",
		Password:         "password123",
		SubscriptionType: models.SubscriptionOneMonth,
		ExpirationDate:   &exp,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", acc.ID)
	assert.Equal(t, models.RoleUser, acc.Role)
	assert.Equal(t, 0, acc.HwidChangeCount)
	assert.Nil(t, acc.LastHwidChangeDate)
	assert.True(t, now.Equal(*acc.PurchaseDate))
	assert.True(t, exp.Equal(*acc.ExpirationDate))

	stored := f.account(t, "new-1")
	assert.Equal(t, acc, stored)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.EventAccountCreated, f.events.events[0].Type)
	f.identity.AssertExpectations(t)
}

func TestService_CreateAccount_NoSubscription(t *testing.T) {
	f := setup(t)
	f.identity.On("CreateIdentity", mock.Anything, "plain@example.com", "password123").Return("new-2", nil).Once()

	acc, err := f.svc.CreateAccount(context.Background(), "admin-1", models.NewAccount{
		Email: "plain@example.com", Password: "password123", Role: models.RoleModerator,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionNone, acc.SubscriptionType)
	assert.Nil(t, acc.PurchaseDate)
	assert.Equal(t, models.RoleModerator, acc.Role)
}

func TestService_CreateAccount_Failures(t *testing.T) {
	tests := []struct {
		name      string
		actorID   string
		req       models.NewAccount
		setupMock func(m *IdentityMock)
		wantKind  licensing.Kind
	}{
		{
			name:      "missing password",
			actorID:   "admin-1",
			req:       models.NewAccount{Email: "x@example.com"},
			setupMock: func(*IdentityMock) {},
			wantKind:  licensing.KindInvalidArgument,
		},
		{
			name:      "moderator cannot create admin",
			actorID:   "mod-1",
			req:       models.NewAccount{Email: "x@example.com", Password: "password123", Role: models.RoleAdmin},
			setupMock: func(*IdentityMock) {},
			wantKind:  licensing.KindUnauthorized,
		},
		{
			name:    "duplicate email",
			actorID: "admin-1",
			req:     models.NewAccount{Email: "x@example.com", Password: "password123"},
			setupMock: func(m *IdentityMock) {
				m.On("CreateIdentity", mock.Anything, "x@example.com", "password123").
					Return("", licensing.IdentityProvider("email is already registered", errors.New("duplicate"))).Once()
			},
			wantKind: licensing.KindIdentityProviderError,
		},
		{
			name:    "foreign identity error",
			actorID: "admin-1",
			req:     models.NewAccount{Email: "x@example.com", Password: "password123"},
			setupMock: func(m *IdentityMock) {
				m.On("CreateIdentity", mock.Anything, "x@example.com", "password123").
					Return("", errors.New("upstream timeout")).Once()
			},
			wantKind: licensing.KindIdentityProviderError,
		},
		{
			name:    "record write fails and identity is rolled back",
			actorID: "admin-1",
			req:     models.NewAccount{Email: "x@example.com", Password: "password123"},
			setupMock: func(m *IdentityMock) {
				// ID уже занят записью аккаунта
				m.On("CreateIdentity", mock.Anything, "x@example.com", "password123").Return("user-1", nil).Once()
				m.On("DeleteIdentity", mock.Anything, "user-1").Return(nil).Once()
			},
			wantKind: licensing.KindStorageError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.setupMock(f.identity)

			_, err := f.svc.CreateAccount(context.Background(), tt.actorID, tt.req)
			assert.Equal(t, tt.wantKind, licensing.KindOf(err))
			assert.Empty(t, f.events.events)

			all, err := f.store.ListAccounts(context.Background(), 0, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
			f.identity.AssertExpectations(t)
		})
	}
}

func TestService_Execute(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Execute(ctx, admin.Command{Action: admin.ActionGetAccount, ActorID: "mod-1", TargetID: "user-1"})
	require.NoError(t, err)
	acc, ok := res.(*models.Account)
	require.True(t, ok)
	assert.Equal(t, "user-1", acc.ID)

	res, err = f.svc.Execute(ctx, admin.Command{Action: admin.ActionListAccounts, ActorID: "mod-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.([]*models.Account), 2)

	_, err = f.svc.Execute(ctx, admin.Command{Action: admin.ActionListAccounts, ActorID: "mod-1", Offset: -1})
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)

	_, err = f.svc.Execute(ctx, admin.Command{Action: "dropDatabase", ActorID: "admin-1"})
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)
}

func TestService_AllowlistActions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	fp := hwid.Normalize("CLIENT-1")

	res, err := f.svc.Execute(ctx, admin.Command{
		Action: admin.ActionAddAllowedHwid, ActorID: "mod-1", Hwid: "CLIENT-1", Amount: 2, Unit: allowlist.UnitWeeks,
	})
	require.NoError(t, err)
	entry := res.(*models.AllowedHwid)
	assert.Equal(t, fp, entry.Fingerprint)
	assert.True(t, now.Add(14*licensing.Day).Equal(*entry.ExpiresAt))

	_, err = f.svc.Execute(ctx, admin.Command{
		Action: admin.ActionSetAllowedHwidActive, ActorID: "mod-1", Fingerprint: fp,
	})
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)

	entries, err := f.svc.ListAllowedHwids(ctx, "admin-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Active)

	inactive := false
	_, err = f.svc.Execute(ctx, admin.Command{
		Action: admin.ActionSetAllowedHwidActive, ActorID: "mod-1", Fingerprint: fp, Active: &inactive,
	})
	require.NoError(t, err)

	entries, err = f.svc.ListAllowedHwids(ctx, "admin-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Active)

	require.NoError(t, f.svc.RemoveAllowedHwid(ctx, "admin-1", fp))
	err = f.svc.RemoveAllowedHwid(ctx, "admin-1", fp)
	assert.ErrorIs(t, err, licensing.ErrNotFound)

	_, err = f.svc.ListAllowedHwids(ctx, "user-1")
	assert.ErrorIs(t, err, licensing.ErrUnauthorized)
}

func TestService_RestrictedPolicy(t *testing.T) {
	policy, err := admin.NewAccessPolicy(map[string][]string{"extendExpiration": {"admin"}}, nil)
	require.NoError(t, err)
	f := setup(t, admin.WithAccessPolicy(policy))

	_, err = f.svc.ExtendExpiration(context.Background(), "mod-1", "user-1", 5)
	assert.ErrorIs(t, err, licensing.ErrUnauthorized)

	_, err = f.svc.ExtendExpiration(context.Background(), "admin-1", "user-1", 5)
	assert.NoError(t, err)
}

func TestService_RequireElevated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.RequireElevated(ctx, "admin-1"))
	assert.NoError(t, f.svc.RequireElevated(ctx, "mod-1"))
	assert.ErrorIs(t, f.svc.RequireElevated(ctx, "user-1"), licensing.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.RequireElevated(ctx, "ghost"), licensing.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.RequireElevated(ctx, ""), licensing.ErrUnauthorized)
}
