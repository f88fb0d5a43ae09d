package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterUser(t *testing.T) {
	user, err := RegisterUser("user-1", "Jane@Example.com", "Jane", "Doe", "")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user.Email())
	require.Equal(t, RoleCustomer, user.Role())
	require.True(t, user.IsActive())

	_, err = RegisterUser("user-2", "not-an-email", "A", "B", "")
	require.True(t, HasCode(err, CodeInvalidArgument))

	_, err = RegisterUser("user-3", "a@b.co", "A", "B", "root")
	require.True(t, HasCode(err, CodeInvalidArgument))
}

func TestDeactivatedUserRejectsCommands(t *testing.T) {
	user, err := RegisterUser("user-1", "jane@example.com", "Jane", "Doe", RoleCustomer)
	require.NoError(t, err)

	addressID, err := user.AddAddress(testAddress)
	require.NoError(t, err)
	require.Contains(t, user.Addresses(), addressID)

	require.NoError(t, user.Deactivate("fraud review"))
	before := user.Version()

	require.True(t, HasCode(user.UpdateProfile("J", "D", ""), CodeInvalidStatus))
	require.True(t, HasCode(user.ChangeEmail("j@example.com"), CodeInvalidStatus))
	require.True(t, HasCode(user.ChangeRole(RoleAdmin), CodeInvalidStatus))
	require.True(t, HasCode(user.RemoveAddress(addressID), CodeInvalidStatus))
	require.Equal(t, before, user.Version())

	require.NoError(t, user.Reactivate())
	require.True(t, HasCode(user.Reactivate(), CodeInvalidStatus))
	require.NoError(t, user.RemoveAddress(addressID))
	require.NoError(t, user.ChangeRole(RoleAdmin))
	require.Equal(t, RoleAdmin, user.Role())

	replayed, err := UserFromEvents("user-1", user.UncommittedEvents())
	require.NoError(t, err)
	require.Equal(t, user.State(), replayed.State())
}
