package models

import "time"

// AllowedHwid — запись белого списка отпечатков, которую напрямую проверяет
// лицензируемое клиентское ПО. Ведётся независимо от поля Account.Hwid.
type AllowedHwid struct {
	Fingerprint string     `json:"fingerprint"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expiresAt"` // nil — бессрочно
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired сообщает, истёк ли срок действия записи на момент now.
func (h *AllowedHwid) Expired(now time.Time) bool {
	return h.ExpiresAt != nil && !now.Before(*h.ExpiresAt)
}

// Usable сообщает, разрешает ли запись работу клиента на момент now.
func (h *AllowedHwid) Usable(now time.Time) bool {
	return h.Active && !h.Expired(now)
}
