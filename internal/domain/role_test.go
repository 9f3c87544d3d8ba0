package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleAdmin.IsValid())
	assert.True(t, RoleOperator.IsValid())
	assert.False(t, Role("superuser").IsValid())
	assert.False(t, Role("").IsValid())
}

func TestRole_Grants(t *testing.T) {
	// Admin grants everything, including itself.
	assert.True(t, RoleAdmin.Grants(RoleAdmin))
	assert.True(t, RoleAdmin.Grants(RoleOperator))

	// Operator grants only itself.
	assert.True(t, RoleOperator.Grants(RoleOperator))
	assert.False(t, RoleOperator.Grants(RoleAdmin))
}

func TestAllowed(t *testing.T) {
	// An empty requirement set passes any role.
	assert.True(t, Allowed(RoleOperator))
	assert.True(t, Allowed(RoleAdmin))

	assert.True(t, Allowed(RoleAdmin, RoleOperator))
	assert.True(t, Allowed(RoleOperator, RoleAdmin, RoleOperator))
	assert.False(t, Allowed(RoleOperator, RoleAdmin))
}

func TestPrincipal_HasSession(t *testing.T) {
	p := &Principal{}
	assert.False(t, p.HasSession())

	hash := "digest"
	p.RefreshTokenHash = &hash
	assert.True(t, p.HasSession())

	empty := ""
	p.RefreshTokenHash = &empty
	assert.False(t, p.HasSession())
}
