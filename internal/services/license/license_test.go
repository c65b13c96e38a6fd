package license_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/hwid"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage/memory"
)

var (
	now       = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	boundHwid = strings.Repeat("ab", 32)
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return now }

// AccountRepoMock возвращает запись из ожиданий и применяет к её копии fn,
// как это делает настоящее хранилище.
type AccountRepoMock struct {
	mock.Mock
}

func (m *AccountRepoMock) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account).Clone(), args.Error(1)
}

func (m *AccountRepoMock) UpdateAccount(ctx context.Context, id string, fn func(acc *models.Account) error) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	acc := args.Get(0).(*models.Account).Clone()
	if err := fn(acc); err != nil {
		return nil, err
	}
	return acc, args.Error(1)
}

func (m *AccountRepoMock) ListAccountsByHwid(ctx context.Context, fingerprint string) ([]*models.Account, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

type AllowlistMock struct {
	mock.Mock
}

func (m *AllowlistMock) Lookup(ctx context.Context, fingerprint string) (*models.AllowedHwid, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AllowedHwid), args.Error(1)
}

type recorder struct {
	mu     sync.Mutex
	events []models.LicenseEvent
}

func (r *recorder) Notify(_ context.Context, e models.LicenseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func entitled(mut func(a *models.Account)) *models.Account {
	acc := &models.Account{
		ID:               "acc-1",
		Email:            "user@example.com",
		Role:             models.RoleUser,
		SubscriptionType: models.SubscriptionOneMonth,
		ExpirationDate:   models.TimePtr(now.Add(10 * licensing.Day)),
	}
	if mut != nil {
		mut(acc)
	}
	return acc
}

func TestService_SetupHwid(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		setupMock func(r *AccountRepoMock)
		wantKind  licensing.Kind
	}{
		{
			name:      "binds normalized fingerprint",
			candidate: "  DEVICE-SERIAL-1 ",
			setupMock: func(r *AccountRepoMock) {
				r.On("UpdateAccount", mock.Anything, "acc-1").Return(entitled(nil), nil).Once()
			},
		},
		{
			name:      "no subscription",
			candidate: "DEVICE",
			setupMock: func(r *AccountRepoMock) {
				r.On("UpdateAccount", mock.Anything, "acc-1").Return(entitled(func(a *models.Account) {
					a.SubscriptionType = models.SubscriptionNone
					a.ExpirationDate = nil
					a.Hwid = boundHwid
				}), nil).Once()
			},
			wantKind: licensing.KindNotEntitled,
		},
		{
			name:      "already bound",
			candidate: "DEVICE",
			setupMock: func(r *AccountRepoMock) {
				r.On("UpdateAccount", mock.Anything, "acc-1").Return(entitled(func(a *models.Account) {
					a.Hwid = boundHwid
				}), nil).Once()
			},
			wantKind: licensing.KindAlreadyBound,
		},
		{
			name:      "empty candidate",
			candidate: " ",
			setupMock: func(*AccountRepoMock) {},
			wantKind:  licensing.KindInvalidArgument,
		},
		{
			name:      "unknown account",
			candidate: "DEVICE",
			setupMock: func(r *AccountRepoMock) {
				r.On("UpdateAccount", mock.Anything, "acc-1").
					Return(nil, fmt.Errorf("repository.UpdateAccount: %w", storage.ErrAccountNotFound)).Once()
			},
			wantKind: licensing.KindNotFound,
		},
		{
			name:      "storage failure",
			candidate: "DEVICE",
			setupMock: func(r *AccountRepoMock) {
				r.On("UpdateAccount", mock.Anything, "acc-1").Return(nil, errors.New("connection reset")).Once()
			},
			wantKind: licensing.KindStorageError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			tt.setupMock(repo)
			rec := &recorder{}
			svc := license.New(newNoopLogger(), repo, license.WithClock(clock), license.WithNotifier(rec))

			res, err := svc.SetupHwid(context.Background(), "acc-1", tt.candidate)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, licensing.KindOf(err))
				assert.Empty(t, rec.events)
			} else {
				require.NoError(t, err)
				assert.Equal(t, hwid.Normalize(tt.candidate), res.Fingerprint)
				require.Len(t, rec.events, 1)
				assert.Equal(t, models.EventHwidSetup, rec.events[0].Type)
				assert.Equal(t, res.Fingerprint, rec.events[0].Fingerprint)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestService_SetupHwid_StorageErrorIsOpaque(t *testing.T) {
	repo := new(AccountRepoMock)
	repo.On("UpdateAccount", mock.Anything, "acc-1").
		Return(nil, errors.New("pq: password authentication failed")).Once()
	svc := license.New(newNoopLogger(), repo)

	_, err := svc.SetupHwid(context.Background(), "acc-1", "DEVICE")
	e, ok := licensing.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "internal error", e.Message)
}

func TestService_ChangeHwid(t *testing.T) {
	tests := []struct {
		name          string
		account       *models.Account
		wantKind      licensing.Kind
		wantRemaining int
		wantCooldown  time.Duration
	}{
		{
			name: "first change",
			account: entitled(func(a *models.Account) {
				a.Hwid = boundHwid
			}),
			wantRemaining: 2,
		},
		{
			name: "change after cooldown",
			account: entitled(func(a *models.Account) {
				a.Hwid = boundHwid
				a.HwidChangeCount = 2
				a.LastHwidChangeDate = models.TimePtr(now.Add(-8 * licensing.Day))
			}),
			wantRemaining: 0,
		},
		{
			name: "limit reached",
			account: entitled(func(a *models.Account) {
				a.ExpirationDate = models.TimePtr(now.Add(time.Second))
				a.Hwid = boundHwid
				a.HwidChangeCount = 3
			}),
			wantKind: licensing.KindLimitReached,
		},
		{
			name: "cooldown active",
			account: entitled(func(a *models.Account) {
				a.Hwid = boundHwid
				a.HwidChangeCount = 2
				a.LastHwidChangeDate = models.TimePtr(now.Add(-time.Second))
			}),
			wantKind:     licensing.KindCooldownActive,
			wantCooldown: 7*licensing.Day - time.Second,
		},
		{
			name:     "not bound yet",
			account:  entitled(nil),
			wantKind: licensing.KindInvalidArgument,
		},
		{
			name: "subscription lapsed",
			account: entitled(func(a *models.Account) {
				a.ExpirationDate = models.TimePtr(now)
				a.Hwid = boundHwid
			}),
			wantKind: licensing.KindNotEntitled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			repo.On("UpdateAccount", mock.Anything, "acc-1").Return(tt.account, nil).Once()
			rec := &recorder{}
			svc := license.New(newNoopLogger(), repo, license.WithClock(clock), license.WithNotifier(rec))

			res, err := svc.ChangeHwid(context.Background(), "acc-1", "NEW-DEVICE")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, licensing.KindOf(err))
				if tt.wantCooldown > 0 {
					e, _ := licensing.AsError(err)
					assert.Equal(t, tt.wantCooldown, e.CooldownRemaining)
				}
				assert.Empty(t, rec.events)
			} else {
				require.NoError(t, err)
				assert.Equal(t, hwid.Normalize("NEW-DEVICE"), res.Fingerprint)
				assert.Equal(t, tt.wantRemaining, res.RemainingChanges)
				require.Len(t, rec.events, 1)
				assert.Equal(t, models.EventHwidChanged, rec.events[0].Type)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestService_LimitReachedLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acc := entitled(func(a *models.Account) {
		a.Hwid = boundHwid
		a.HwidChangeCount = 3
	})
	require.NoError(t, store.CreateAccount(ctx, acc))

	svc := license.New(newNoopLogger(), store, license.WithClock(clock))
	_, err := svc.ChangeHwid(ctx, acc.ID, "OTHER")
	require.ErrorIs(t, err, licensing.ErrLimitReached)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestService_SetupThenChange(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateAccount(ctx, entitled(nil)))
	svc := license.New(newNoopLogger(), store, license.WithClock(clock))

	_, err := svc.SetupHwid(ctx, "acc-1", "FIRST")
	require.NoError(t, err)
	acc, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, acc.HwidChangeCount)
	assert.Nil(t, acc.LastHwidChangeDate)

	res, err := svc.ChangeHwid(ctx, "acc-1", "SECOND")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingChanges)
	acc, err = store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, acc.HwidChangeCount)
	assert.Equal(t, hwid.Normalize("SECOND"), acc.Hwid)
	require.NotNil(t, acc.LastHwidChangeDate)
	assert.True(t, now.Equal(*acc.LastHwidChangeDate))
}

func TestService_ConcurrentChangesSucceedOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateAccount(ctx, entitled(func(a *models.Account) {
		a.Hwid = boundHwid
	})))
	svc := license.New(newNoopLogger(), store, license.WithClock(clock))

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		cooldowns int
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ChangeHwid(ctx, "acc-1", fmt.Sprintf("DEVICE-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, licensing.ErrCooldownActive):
				cooldowns++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, cooldowns)
	acc, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, acc.HwidChangeCount)
}

func TestService_Status(t *testing.T) {
	repo := new(AccountRepoMock)
	repo.On("GetAccount", mock.Anything, "acc-1").Return(entitled(func(a *models.Account) {
		a.Hwid = boundHwid
		a.HwidChangeCount = 1
		a.LastHwidChangeDate = models.TimePtr(now.Add(-licensing.Day))
	}), nil).Once()
	repo.On("GetAccount", mock.Anything, "missing").Return(nil, storage.ErrAccountNotFound).Once()

	svc := license.New(newNoopLogger(), repo, license.WithClock(clock))

	st, err := svc.Status(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, st.Entitled)
	assert.Equal(t, 2, st.RemainingChanges)
	assert.Equal(t, 6*licensing.Day, st.CooldownRemaining)

	_, err = svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, licensing.ErrNotFound)
	repo.AssertExpectations(t)
}

func TestService_Verify(t *testing.T) {
	fp := hwid.Normalize("CLIENT")
	allowExpiry := now.Add(time.Hour)

	tests := []struct {
		name           string
		setupMock      func(r *AccountRepoMock, a *AllowlistMock)
		wantAuthorized bool
		wantSource     string
		wantExpiresAt  *time.Time
	}{
		{
			name: "allow-list entry",
			setupMock: func(_ *AccountRepoMock, a *AllowlistMock) {
				a.On("Lookup", mock.Anything, fp).Return(&models.AllowedHwid{
					Fingerprint: fp, Active: true, ExpiresAt: &allowExpiry,
				}, nil).Once()
			},
			wantAuthorized: true,
			wantSource:     license.SourceAllowlist,
			wantExpiresAt:  &allowExpiry,
		},
		{
			name: "inactive entry falls back to account",
			setupMock: func(r *AccountRepoMock, a *AllowlistMock) {
				a.On("Lookup", mock.Anything, fp).Return(&models.AllowedHwid{Fingerprint: fp}, nil).Once()
				r.On("ListAccountsByHwid", mock.Anything, fp).Return([]*models.Account{
					entitled(func(acc *models.Account) { acc.Hwid = fp }),
				}, nil).Once()
			},
			wantAuthorized: true,
			wantSource:     license.SourceAccount,
			wantExpiresAt:  models.TimePtr(now.Add(10 * licensing.Day)),
		},
		{
			name: "lifetime account",
			setupMock: func(r *AccountRepoMock, a *AllowlistMock) {
				a.On("Lookup", mock.Anything, fp).Return(nil, nil).Once()
				r.On("ListAccountsByHwid", mock.Anything, fp).Return([]*models.Account{
					entitled(func(acc *models.Account) { acc.Hwid = fp }),
					entitled(func(acc *models.Account) {
						acc.ID = "acc-2"
						acc.Hwid = fp
						acc.SubscriptionType = models.SubscriptionLifetime
						acc.ExpirationDate = nil
					}),
				}, nil).Once()
			},
			wantAuthorized: true,
			wantSource:     license.SourceAccount,
		},
		{
			name: "bound account without subscription",
			setupMock: func(r *AccountRepoMock, a *AllowlistMock) {
				a.On("Lookup", mock.Anything, fp).Return(nil, nil).Once()
				r.On("ListAccountsByHwid", mock.Anything, fp).Return([]*models.Account{
					entitled(func(acc *models.Account) {
						acc.Hwid = fp
						acc.ExpirationDate = models.TimePtr(now.Add(-time.Minute))
					}),
				}, nil).Once()
			},
			wantSource: license.SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			allow := new(AllowlistMock)
			tt.setupMock(repo, allow)
			svc := license.New(newNoopLogger(), repo, license.WithClock(clock), license.WithAllowlist(allow))

			got, err := svc.Verify(context.Background(), "CLIENT")
			require.NoError(t, err)
			assert.Equal(t, fp, got.Fingerprint)
			assert.Equal(t, tt.wantAuthorized, got.Authorized)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantExpiresAt, got.ExpiresAt)
			repo.AssertExpectations(t)
			allow.AssertExpectations(t)
		})
	}
}

func TestService_Verify_Errors(t *testing.T) {
	repo := new(AccountRepoMock)
	allow := new(AllowlistMock)
	allow.On("Lookup", mock.Anything, mock.Anything).Return(nil, licensing.Storage(errors.New("redis down"))).Once()
	svc := license.New(newNoopLogger(), repo, license.WithAllowlist(allow))

	_, err := svc.Verify(context.Background(), "")
	assert.ErrorIs(t, err, licensing.ErrInvalidArgument)

	_, err = svc.Verify(context.Background(), "CLIENT")
	assert.ErrorIs(t, err, licensing.ErrStorageError)
}
