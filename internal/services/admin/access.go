package admin

import (
	"fmt"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

// Action — административное действие.
type Action string

const (
	ActionResetHwidCounter     Action = "resetHwidCounter"
	ActionExtendExpiration     Action = "extendExpiration"
	ActionAssignSubscription   Action = "assignSubscription"
	ActionSetHwid              Action = "setHwid"
	ActionEditAccount          Action = "editAccount"
	ActionCreateAccount        Action = "createAccount"
	ActionAddAllowedHwid       Action = "addAllowedHwid"
	ActionSetAllowedHwidActive Action = "setAllowedHwidActive"
	ActionRemoveAllowedHwid    Action = "removeAllowedHwid"
	ActionListAllowedHwids     Action = "listAllowedHwids"
	ActionListAccounts         Action = "listAccounts"
	ActionGetAccount           Action = "getAccount"
)

// Actions перечисляет все известные действия.
var Actions = []Action{
	ActionResetHwidCounter,
	ActionExtendExpiration,
	ActionAssignSubscription,
	ActionSetHwid,
	ActionEditAccount,
	ActionCreateAccount,
	ActionAddAllowedHwid,
	ActionSetAllowedHwidActive,
	ActionRemoveAllowedHwid,
	ActionListAllowedHwids,
	ActionListAccounts,
	ActionGetAccount,
}

// Known сообщает, является ли действие известным.
func (a Action) Known() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// AccessPolicy — таблица возможностей ролей. Выдача повышенной роли
// (moderator, admin) проверяется отдельно от права на само действие.
type AccessPolicy struct {
	actions map[Action]map[models.Role]bool
	grant   map[models.Role]bool
}

// DefaultAccessPolicy разрешает admin и moderator все действия,
// а выдавать повышенные роли разрешает только admin.
func DefaultAccessPolicy() AccessPolicy {
	p := AccessPolicy{
		actions: make(map[Action]map[models.Role]bool, len(Actions)),
		grant:   map[models.Role]bool{models.RoleAdmin: true},
	}
	for _, a := range Actions {
		p.actions[a] = map[models.Role]bool{models.RoleAdmin: true, models.RoleModerator: true}
	}
	return p
}

// NewAccessPolicy строит политику из конфигурации. Действия, не указанные
// в actionRoles, сохраняют значения по умолчанию; пустой grantRoles
// оставляет право выдачи только admin. Роль user в таблице недопустима.
func NewAccessPolicy(actionRoles map[string][]string, grantRoles []string) (AccessPolicy, error) {
	const op = "admin.NewAccessPolicy"
	p := DefaultAccessPolicy()

	for name, roles := range actionRoles {
		action := Action(name)
		if !action.Known() {
			return AccessPolicy{}, fmt.Errorf("%s: unknown action %q", op, name)
		}
		set, err := roleSet(roles)
		if err != nil {
			return AccessPolicy{}, fmt.Errorf("%s: action %s: %w", op, name, err)
		}
		p.actions[action] = set
	}

	if len(grantRoles) > 0 {
		set, err := roleSet(grantRoles)
		if err != nil {
			return AccessPolicy{}, fmt.Errorf("%s: role grant: %w", op, err)
		}
		p.grant = set
	}
	return p, nil
}

func roleSet(roles []string) (map[models.Role]bool, error) {
	set := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		role := models.Role(r)
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		if !role.Elevated() {
			return nil, fmt.Errorf("role %q cannot hold administrative rights", r)
		}
		set[role] = true
	}
	return set, nil
}

// CanRun сообщает, может ли роль выполнять действие.
func (p AccessPolicy) CanRun(role models.Role, action Action) bool {
	return role.Elevated() && p.actions[action][role]
}

// CanGrant сообщает, может ли роль выдавать или отзывать повышенные роли.
func (p AccessPolicy) CanGrant(role models.Role) bool {
	return role.Elevated() && p.grant[role]
}
