// Package models содержит доменные структуры сервиса лицензирования:
// запись аккаунта, запись белого списка отпечатков и события лицензий.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Role — роль аккаунта, определяющая административные возможности.
type Role string

const (
	// RoleUser — обычный пользователь.
	RoleUser Role = "user"
	// RoleModerator — модератор.
	RoleModerator Role = "moderator"
	// RoleAdmin — администратор.
	RoleAdmin Role = "admin"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Elevated сообщает, даёт ли роль административные возможности.
func (r Role) Elevated() bool {
	return r == RoleModerator || r == RoleAdmin
}

// SubscriptionType — тип подписки аккаунта.
type SubscriptionType string

const (
	// SubscriptionNone — платного плана нет.
	SubscriptionNone SubscriptionType = "none"
	// SubscriptionOneMonth — подписка на 1 месяц.
	SubscriptionOneMonth SubscriptionType = "1month"
	// SubscriptionThreeMonths — подписка на 3 месяца.
	SubscriptionThreeMonths SubscriptionType = "3months"
	// SubscriptionLifetime — бессрочная подписка.
	SubscriptionLifetime SubscriptionType = "lifetime"
)

// ParseSubscriptionType разбирает тип подписки; пустая строка означает SubscriptionNone.
func ParseSubscriptionType(s string) (SubscriptionType, bool) {
	switch SubscriptionType(s) {
	case "", SubscriptionNone:
		return SubscriptionNone, true
	case SubscriptionOneMonth, SubscriptionThreeMonths, SubscriptionLifetime:
		return SubscriptionType(s), true
	}
	return "", false
}

// Fixed сообщает, является ли подписка срочной.
func (t SubscriptionType) Fixed() bool {
	return t == SubscriptionOneMonth || t == SubscriptionThreeMonths
}

// Account — запись аккаунта, одна на каждую учётную запись провайдера идентификации.
// Поле Hwid пустое, если устройство ещё не привязано.
type Account struct {
	ID                 string           // Идентификатор, выданный провайдером идентификации
	Email              string           // Электронная почта (только для отображения и связи)
	Role               Role             // Роль аккаунта
	CreatedAt          time.Time        // Дата создания
	SubscriptionType   SubscriptionType // Тип подписки
	PurchaseDate       *time.Time       // Дата последней выдачи подписки
	ExpirationDate     *time.Time       // Дата окончания срочной подписки
	Hwid               string           // Привязанный отпечаток устройства
	HwidChangeCount    int              // Количество смен HWID (первичная привязка не считается)
	LastHwidChangeDate *time.Time       // Дата последней смены HWID
}

// Clone возвращает глубокую копию аккаунта.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.PurchaseDate = cloneTime(a.PurchaseDate)
	c.ExpirationDate = cloneTime(a.ExpirationDate)
	c.LastHwidChangeDate = cloneTime(a.LastHwidChangeDate)
	return &c
}

// NullableTime описывает изменение поля-даты, которое можно установить или очистить.
// Set == false означает, что поле не меняется.
type NullableTime struct {
	Set  bool
	Time *time.Time
}

// AccountPatch — произвольное административное изменение записи аккаунта.
// Nil-поля не меняются; пустая строка Hwid очищает привязку.
type AccountPatch struct {
	Role             *Role
	SubscriptionType *SubscriptionType
	Hwid             *string
	PurchaseDate     NullableTime
	ExpirationDate   NullableTime
}

// NewAccount описывает параметры создания аккаунта администратором.
type NewAccount struct {
	Email            string
	Password         string
	Role             Role
	SubscriptionType SubscriptionType
	ExpirationDate   *time.Time
	Hwid             string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr возвращает указатель на копию t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
