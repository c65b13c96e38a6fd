package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/hwid-licensing/internal/migrations"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateAccount создает учётную запись и аккаунт с заданными полями
func (f *TestDataFactory) CreateAccount(t *testing.T, acc models.Account) *models.Account {
	ctx := context.Background()
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Email == "" {
		acc.Email = acc.ID + "@example.com"
	}
	if acc.Role == "" {
		acc.Role = models.RoleUser
	}
	if acc.SubscriptionType == "" {
		acc.SubscriptionType = models.SubscriptionNone
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	_, err := f.storage.CreateIdentity(ctx, models.Identity{
		ID: acc.ID, Email: acc.Email, PasswordHash: "hash", CreatedAt: acc.CreatedAt,
	})
	require.NoError(t, err)
	require.NoError(t, f.storage.CreateAccount(ctx, &acc))
	return &acc
}

func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	projectRoot, err := filepath.Abs("../../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, filepath.Join(projectRoot, "migrations")))
	require.NoError(t, CheckDatabaseReady(storage))

	cleanup := func() {
		_ = storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return storage, cleanup
}
