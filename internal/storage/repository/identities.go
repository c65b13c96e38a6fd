package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// CreateIdentity сохраняет учётную запись провайдера идентификации и возвращает её ID.
func (s *Storage) CreateIdentity(ctx context.Context, identity models.Identity) (string, error) {
	const op = "storage.CreateIdentity"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newID string
	query := `INSERT INTO identities (uid, email, password_hash, created_at)
			  VALUES ($1, $2, $3, $4)
			  RETURNING uid`
	if err := s.DB.QueryRowContext(ctx, query,
		identity.ID, identity.Email, identity.PasswordHash, identity.CreatedAt).Scan(&newID); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetIdentityByEmail возвращает учётную запись по электронной почте.
func (s *Storage) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	const op = "storage.GetIdentityByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, email, password_hash, created_at
			  FROM identities
			  WHERE email = $1`
	var identity models.Identity
	if err := s.DB.QueryRowContext(ctx, query, email).Scan(
		&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrIdentityNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &identity, nil
}

// DeleteIdentity удаляет учётную запись. Запись аккаунта удаляется каскадно.
func (s *Storage) DeleteIdentity(ctx context.Context, id string) error {
	const op = "storage.DeleteIdentity"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM identities WHERE uid = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrIdentityNotFound)
	}
	return nil
}
