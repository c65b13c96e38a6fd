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

const accountColumns = `uid, email, role, created_at, subscription_type, purchase_date,
		      expiration_date, hwid, hwid_change_count, last_hwid_change_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		acc                                  models.Account
		subType, hwid                        sql.NullString
		purchase, expiration, lastHwidChange sql.NullTime
	)
	if err := row.Scan(&acc.ID, &acc.Email, &acc.Role, &acc.CreatedAt, &subType, &purchase,
		&expiration, &hwid, &acc.HwidChangeCount, &lastHwidChange); err != nil {
		return nil, err
	}
	acc.SubscriptionType = models.SubscriptionNone
	if subType.Valid && subType.String != "" {
		acc.SubscriptionType = models.SubscriptionType(subType.String)
	}
	acc.Hwid = hwid.String
	acc.PurchaseDate = nullTime(purchase)
	acc.ExpirationDate = nullTime(expiration)
	acc.LastHwidChangeDate = nullTime(lastHwidChange)
	return &acc, nil
}

func subscriptionValue(t models.SubscriptionType) any {
	if t == "" || t == models.SubscriptionNone {
		return nil
	}
	return string(t)
}

func hwidValue(h string) any {
	if h == "" {
		return nil
	}
	return h
}

// CreateAccount сохраняет новую запись аккаунта.
func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.CreateAccount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO accounts (uid, email, role, created_at, subscription_type, purchase_date,
			      expiration_date, hwid, hwid_change_count, last_hwid_change_date)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.DB.ExecContext(ctx, query,
		acc.ID, acc.Email, string(acc.Role), acc.CreatedAt, subscriptionValue(acc.SubscriptionType),
		acc.PurchaseDate, acc.ExpirationDate, hwidValue(acc.Hwid), acc.HwidChangeCount,
		acc.LastHwidChangeDate)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAccountExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAccount возвращает запись аккаунта по ID.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.GetAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE uid = $1`
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// UpdateAccount загружает аккаунт с блокировкой строки, передаёт копию в fn
// и сохраняет результат в той же транзакции. Если fn вернула ошибку,
// транзакция откатывается и ошибка возвращается без обёртки.
func (s *Storage) UpdateAccount(ctx context.Context, id string, fn func(acc *models.Account) error) (*models.Account, error) {
	const op = "storage.UpdateAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE uid = $1 FOR UPDATE`
	acc, err := scanAccount(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err = fn(acc); err != nil {
		return nil, err
	}

	update := `UPDATE accounts
			   SET role = $1, subscription_type = $2, purchase_date = $3, expiration_date = $4,
			       hwid = $5, hwid_change_count = $6, last_hwid_change_date = $7
			   WHERE uid = $8`
	if _, err = tx.ExecContext(ctx, update,
		string(acc.Role), subscriptionValue(acc.SubscriptionType), acc.PurchaseDate, acc.ExpirationDate,
		hwidValue(acc.Hwid), acc.HwidChangeCount, acc.LastHwidChangeDate, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// ListAccounts возвращает аккаунты постранично, новые первыми.
func (s *Storage) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	const op = "storage.ListAccounts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts
			  ORDER BY created_at DESC, uid
			  LIMIT $1 OFFSET $2`
	return s.queryAccounts(ctx, op, query, limit, offset)
}

// ListAccountsByHwid возвращает аккаунты, привязанные к отпечатку.
func (s *Storage) ListAccountsByHwid(ctx context.Context, fingerprint string) ([]*models.Account, error) {
	const op = "storage.ListAccountsByHwid"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE hwid = $1`
	return s.queryAccounts(ctx, op, query, fingerprint)
}

// FindSubscriptionsExpiringBetween находит срочные подписки, истекающие в интервале [from, to).
func (s *Storage) FindSubscriptionsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error) {
	const op = "storage.FindSubscriptionsExpiringBetween"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts
			  WHERE subscription_type IN ('1month', '3months')
			    AND expiration_date >= $1 AND expiration_date < $2`
	return s.queryAccounts(ctx, op, query, from, to)
}

func (s *Storage) queryAccounts(ctx context.Context, op, query string, args ...any) ([]*models.Account, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
