// Package dto описывает JSON-представления записей для HTTP-ответов.
// Даты передаются миллисекундами от начала эпохи Unix, отсутствующая дата передаётся как null.
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// Account — представление записи аккаунта.
type Account struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Role               string `json:"role"`
	CreatedAt          int64  `json:"createdAt"`
	SubscriptionType   string `json:"subscriptionType"`
	PurchaseDate       *int64 `json:"purchaseDate"`
	ExpirationDate     *int64 `json:"expirationDate"`
	Hwid               string `json:"hwid"`
	HwidChangeCount    int    `json:"hwidChangeCount"`
	LastHwidChangeDate *int64 `json:"lastHwidChangeDate"`
}

// AllowedHwid — представление записи белого списка.
type AllowedHwid struct {
	Fingerprint string `json:"fingerprint"`
	Active      bool   `json:"active"`
	ExpiresAt   *int64 `json:"expiresAt"`
	CreatedAt   int64  `json:"createdAt"`
}

// FromAccount строит представление аккаунта.
func FromAccount(acc *models.Account) Account {
	return Account{
		ID:                 acc.ID,
		Email:              acc.Email,
		Role:               string(acc.Role),
		CreatedAt:          acc.CreatedAt.UnixMilli(),
		SubscriptionType:   string(acc.SubscriptionType),
		PurchaseDate:       Millis(acc.PurchaseDate),
		ExpirationDate:     Millis(acc.ExpirationDate),
		Hwid:               acc.Hwid,
		HwidChangeCount:    acc.HwidChangeCount,
		LastHwidChangeDate: Millis(acc.LastHwidChangeDate),
	}
}

// FromAccounts строит представления списка аккаунтов.
func FromAccounts(accounts []*models.Account) []Account {
	result := make([]Account, 0, len(accounts))
	for _, acc := range accounts {
		result = append(result, FromAccount(acc))
	}
	return result
}

// FromAllowedHwid строит представление записи белого списка.
func FromAllowedHwid(entry *models.AllowedHwid) AllowedHwid {
	return AllowedHwid{
		Fingerprint: entry.Fingerprint,
		Active:      entry.Active,
		ExpiresAt:   Millis(entry.ExpiresAt),
		CreatedAt:   entry.CreatedAt.UnixMilli(),
	}
}

// FromAllowedHwids строит представления белого списка.
func FromAllowedHwids(entries []*models.AllowedHwid) []AllowedHwid {
	result := make([]AllowedHwid, 0, len(entries))
	for _, e := range entries {
		result = append(result, FromAllowedHwid(e))
	}
	return result
}

// Millis переводит дату в миллисекунды; nil остаётся nil.
func Millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// FromMillis переводит миллисекунды в дату UTC; nil остаётся nil.
func FromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// OptionalMillis различает три состояния поля-даты в запросе:
// поле отсутствует, передан null, передано значение.
type OptionalMillis struct {
	Set   bool
	Value *int64
}

// UnmarshalJSON вызывается только для присутствующего поля.
func (o *OptionalMillis) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("timestamp must be milliseconds since epoch or null: %w", err)
	}
	o.Value = &ms
	return nil
}

// NullableTime переводит поле в изменение даты записи.
func (o OptionalMillis) NullableTime() models.NullableTime {
	return models.NullableTime{Set: o.Set, Time: FromMillis(o.Value)}
}
