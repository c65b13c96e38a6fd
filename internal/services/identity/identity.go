// Package identity реализует провайдер идентификации: учётные записи
// с bcrypt-паролями и выпуск JWT для входа.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/password"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// Repository описывает хранилище учётных записей и аккаунтов.
type Repository interface {
	CreateIdentity(ctx context.Context, identity models.Identity) (string, error)
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	// DeleteIdentity удаляет учётную запись вместе с записью аккаунта.
	DeleteIdentity(ctx context.Context, id string) error
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// LoginResult — результат успешного входа.
type LoginResult struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
	Role      string `json:"role"`
}

// Service — провайдер идентификации.
type Service struct {
	log      *slog.Logger
	repo     Repository
	jwtMaker jwt.Maker
	now      func() time.Time
}

// New создаёт Service.
func New(log *slog.Logger, repo Repository, jwtMaker jwt.Maker) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		jwtMaker: jwtMaker,
		now:      time.Now,
	}
}

// CreateIdentity регистрирует учётную запись и возвращает её ID.
// Любой сбой возвращается как KindIdentityProviderError.
func (s *Service) CreateIdentity(ctx context.Context, email, rawPassword string) (string, error) {
	const op = "identity.CreateIdentity"
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", licensing.IdentityProvider("invalid email address", err)
	}
	hash, err := password.GetHash(rawPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return "", licensing.IdentityProvider(errors.Unwrap(err).Error(), err)
		}
		s.log.Error("failed to hash password", slog.String("op", op), sl.Err(err))
		return "", licensing.IdentityProvider("identity creation failed", err)
	}

	id, err := s.repo.CreateIdentity(ctx, models.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return "", licensing.IdentityProvider("email is already registered", err)
		}
		s.log.Error("failed to create identity", slog.String("op", op), sl.Err(err))
		return "", licensing.IdentityProvider("identity creation failed", err)
	}
	return id, nil
}

// DeleteIdentity удаляет учётную запись.
func (s *Service) DeleteIdentity(ctx context.Context, id string) error {
	if err := s.repo.DeleteIdentity(ctx, id); err != nil {
		return licensing.IdentityProvider("identity deletion failed", err)
	}
	return nil
}

// Login проверяет пароль и выпускает токен. Неизвестная почта и неверный
// пароль неразличимы для вызывающей стороны.
func (s *Service) Login(ctx context.Context, email, rawPassword string) (LoginResult, error) {
	const op = "identity.Login"
	invalid := licensing.Unauthorized("invalid credentials")

	ident, err := s.repo.GetIdentityByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrIdentityNotFound) {
			return LoginResult{}, invalid
		}
		s.log.Error("failed to load identity", slog.String("op", op), sl.Err(err))
		return LoginResult{}, licensing.Storage(err)
	}
	if err = password.CompareHash(ident.PasswordHash, rawPassword); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			s.log.Error("failed to compare password", slog.String("op", op), sl.Err(err))
		}
		return LoginResult{}, invalid
	}

	acc, err := s.repo.GetAccount(ctx, ident.ID)
	if err != nil {
		lerr := storage.AsLicensing(err)
		if licensing.KindOf(lerr) == licensing.KindStorageError {
			s.log.Error("failed to load account", slog.String("op", op), sl.Err(err))
		}
		return LoginResult{}, lerr
	}

	token, err := s.jwtMaker.GenerateToken(acc.ID, acc.Email, string(acc.Role))
	if err != nil {
		s.log.Error("failed to generate token", slog.String("op", op), sl.Err(err))
		return LoginResult{}, licensing.IdentityProvider("token generation failed", err)
	}
	return LoginResult{Token: token, AccountID: acc.ID, Role: string(acc.Role)}, nil
}

// Authenticate проверяет bearer-токен и возвращает его данные.
func (s *Service) Authenticate(_ context.Context, token string) (*jwt.CustomClaims, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, licensing.Unauthorized("invalid token")
	}
	return claims, nil
}

// EnsureAdmin создаёт администратора с данной почтой, если учётной записи
// ещё нет. Используется при первом запуске вместо сида в миграциях.
func (s *Service) EnsureAdmin(ctx context.Context, email, rawPassword string) error {
	const op = "identity.EnsureAdmin"
	email = strings.ToLower(strings.TrimSpace(email))

	_, err := s.repo.GetIdentityByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrIdentityNotFound) {
		return licensing.Storage(err)
	}

	id, err := s.CreateIdentity(ctx, email, rawPassword)
	if err != nil {
		return err
	}
	acc := &models.Account{
		ID:               id,
		Email:            email,
		Role:             models.RoleAdmin,
		CreatedAt:        s.now().UTC(),
		SubscriptionType: models.SubscriptionNone,
	}
	if err = s.repo.CreateAccount(ctx, acc); err != nil {
		if derr := s.repo.DeleteIdentity(ctx, id); derr != nil {
			s.log.Error("failed to roll back identity", slog.String("op", op), sl.Err(derr))
		}
		return licensing.Storage(err)
	}
	s.log.Info("bootstrap admin created", slog.String("email", email), sl.Account(id))
	return nil
}
