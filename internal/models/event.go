package models

import "time"

// EventType — тип события лицензии.
type EventType string

const (
	// EventHwidSetup — первичная привязка HWID.
	EventHwidSetup EventType = "hwid.setup"
	// EventHwidChanged — смена HWID пользователем.
	EventHwidChanged EventType = "hwid.changed"
	// EventAccountUpdated — административное изменение аккаунта.
	EventAccountUpdated EventType = "account.updated"
	// EventAccountCreated — создание аккаунта администратором.
	EventAccountCreated EventType = "account.created"
	// EventSubscriptionExpiring — подписка скоро закончится.
	EventSubscriptionExpiring EventType = "subscription.expiring"
	// EventAllowlistUpdated — изменение белого списка отпечатков.
	EventAllowlistUpdated EventType = "allowlist.updated"
)

// LicenseEvent — событие, публикуемое после фиксации изменения.
// События не являются источником истины: состояние всегда читается из хранилища.
type LicenseEvent struct {
	Type           EventType  `json:"type"`
	AccountID      string     `json:"accountId,omitempty"`
	Email          string     `json:"email,omitempty"`
	Fingerprint    string     `json:"fingerprint,omitempty"`
	Action         string     `json:"action,omitempty"`
	ActorID        string     `json:"actorId,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	At             time.Time  `json:"at"`
}
