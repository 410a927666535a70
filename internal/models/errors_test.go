package models

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	var err error = pkgerrors.Wrap(&InsufficientSupplyError{Available: 2, Requested: 5}, "assign")
	require.ErrorIs(t, err, ErrInsufficientSupply)
	require.NotErrorIs(t, err, ErrInsufficientAssigned)

	var supply *InsufficientSupplyError
	require.True(t, errors.As(err, &supply))
	require.Equal(t, int64(2), supply.Available)
	require.Equal(t, int64(5), supply.Requested)

	err = pkgerrors.Wrap(&InsufficientAssignedError{Assigned: 1, Requested: 3}, "revoke")
	require.ErrorIs(t, err, ErrInsufficientAssigned)
	require.Contains(t, err.Error(), "assigned 1, requested 3")

	cause := errors.New("dial tcp: connection refused")
	err = pkgerrors.Wrap(&StoreUnavailableError{Err: cause}, "consume")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
}

func TestStateAndActionValid(t *testing.T) {
	require.True(t, TrackingStateAvailable.Valid())
	require.True(t, TrackingStateUsed.Valid())
	require.False(t, TrackingState("lost").Valid())

	require.True(t, AuditActionRevoke.Valid())
	require.False(t, AuditAction("delete").Valid())
}

func TestUserAssignment_Available(t *testing.T) {
	a := UserAssignment{TotalAssigned: 7, TotalUsed: 3}
	require.Equal(t, int64(4), a.Available())
}
