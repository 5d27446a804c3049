package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_GrantsSignupCreditsOnce(t *testing.T) {
	e := newEnv(t)

	user, err := e.userSvc.Resolve(context.Background(), "sub-1", "a@example.com", "Alice", false)
	require.NoError(t, err)
	assert.Equal(t, 3, user.Credits)

	// Spend some, then resolve again: identity refreshes, balance survives
	e.setCredits(t, user.ID, 1)

	again, err := e.userSvc.Resolve(context.Background(), "sub-1", "new@example.com", "Alice B", true)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Credits)
	assert.Equal(t, "new@example.com", again.Email)
	assert.Equal(t, "Alice B", again.Name)
	assert.True(t, again.IsAdmin)
}

func TestBalance(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")
	e.setCredits(t, user.ID, 7)

	credits, err := e.userSvc.Balance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, credits)

	_, err = e.userSvc.Balance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
