package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

func TestDefaultAccessPolicy(t *testing.T) {
	p := DefaultAccessPolicy()
	for _, a := range Actions {
		assert.True(t, p.CanRun(models.RoleAdmin, a), a)
		assert.True(t, p.CanRun(models.RoleModerator, a), a)
		assert.False(t, p.CanRun(models.RoleUser, a), a)
	}
	assert.True(t, p.CanGrant(models.RoleAdmin))
	assert.False(t, p.CanGrant(models.RoleModerator))
	assert.False(t, p.CanGrant(models.RoleUser))
	assert.False(t, p.CanRun(models.RoleAdmin, "dropDatabase"))
}

func TestNewAccessPolicy(t *testing.T) {
	tests := []struct {
		name    string
		actions map[string][]string
		grant   []string
		check   func(t *testing.T, p AccessPolicy)
		wantErr bool
	}{
		{
			name:    "restrict create to admin",
			actions: map[string][]string{"createAccount": {"admin"}},
			check: func(t *testing.T, p AccessPolicy) {
				assert.False(t, p.CanRun(models.RoleModerator, ActionCreateAccount))
				assert.True(t, p.CanRun(models.RoleAdmin, ActionCreateAccount))
				assert.True(t, p.CanRun(models.RoleModerator, ActionResetHwidCounter))
			},
		},
		{
			name:  "moderators may grant",
			grant: []string{"admin", "moderator"},
			check: func(t *testing.T, p AccessPolicy) {
				assert.True(t, p.CanGrant(models.RoleModerator))
			},
		},
		{
			name:    "user role rejected",
			actions: map[string][]string{"getAccount": {"user"}},
			wantErr: true,
		},
		{
			name:    "unknown action",
			actions: map[string][]string{"dropDatabase": {"admin"}},
			wantErr: true,
		},
		{
			name:    "unknown grant role",
			grant:   []string{"root"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewAccessPolicy(tt.actions, tt.grant)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}
