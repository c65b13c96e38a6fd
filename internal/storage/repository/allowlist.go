package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
	"github.com/magabrotheeeer/hwid-licensing/internal/storage"
)

// UpsertAllowedHwid добавляет отпечаток в белый список или обновляет существующую запись.
func (s *Storage) UpsertAllowedHwid(ctx context.Context, entry models.AllowedHwid) error {
	const op = "storage.UpsertAllowedHwid"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO valid_hwids (fingerprint, active, expires_at, created_at)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (fingerprint) DO UPDATE
			  SET active = EXCLUDED.active, expires_at = EXCLUDED.expires_at`
	if _, err := s.DB.ExecContext(ctx, query,
		entry.Fingerprint, entry.Active, entry.ExpiresAt, entry.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAllowedHwid возвращает запись белого списка по отпечатку.
func (s *Storage) GetAllowedHwid(ctx context.Context, fingerprint string) (*models.AllowedHwid, error) {
	const op = "storage.GetAllowedHwid"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT fingerprint, active, expires_at, created_at
			  FROM valid_hwids WHERE fingerprint = $1`
	entry, err := scanAllowedHwid(s.DB.QueryRowContext(ctx, query, fingerprint))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAllowedHwidNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

// SetAllowedHwidActive включает или отключает запись белого списка.
func (s *Storage) SetAllowedHwidActive(ctx context.Context, fingerprint string, active bool) error {
	const op = "storage.SetAllowedHwidActive"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE valid_hwids SET active = $1 WHERE fingerprint = $2`, active, fingerprint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOrNotFound(op, result)
}

// RemoveAllowedHwid удаляет запись белого списка.
func (s *Storage) RemoveAllowedHwid(ctx context.Context, fingerprint string) error {
	const op = "storage.RemoveAllowedHwid"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM valid_hwids WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOrNotFound(op, result)
}

// ListAllowedHwids возвращает весь белый список, новые записи первыми.
func (s *Storage) ListAllowedHwids(ctx context.Context) ([]*models.AllowedHwid, error) {
	const op = "storage.ListAllowedHwids"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT fingerprint, active, expires_at, created_at
			  FROM valid_hwids ORDER BY created_at DESC, fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.AllowedHwid
	for rows.Next() {
		entry, err := scanAllowedHwid(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeactivateExpiredHwids отключает активные записи с истёкшим сроком и
// возвращает их отпечатки. Повторный вызов ничего не меняет.
func (s *Storage) DeactivateExpiredHwids(ctx context.Context, now time.Time) ([]string, error) {
	const op = "storage.DeactivateExpiredHwids"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `UPDATE valid_hwids SET active = FALSE
			  WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
			  RETURNING fingerprint`, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []string
	for rows.Next() {
		var fingerprint string
		if err = rows.Scan(&fingerprint); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, fingerprint)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func scanAllowedHwid(row rowScanner) (*models.AllowedHwid, error) {
	var (
		entry     models.AllowedHwid
		expiresAt sql.NullTime
	)
	if err := row.Scan(&entry.Fingerprint, &entry.Active, &expiresAt, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.ExpiresAt = nullTime(expiresAt)
	return &entry, nil
}

func affectedOrNotFound(op string, result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAllowedHwidNotFound)
	}
	return nil
}
