package invites

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatus_IsValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired} {
		require.True(t, s.IsValid(), string(s))
	}
	require.False(t, Status("").IsValid())
	require.False(t, Status("revoked").IsValid())
}

func TestStatus_Transitions(t *testing.T) {
	// Pending can move to any terminal state.
	for _, next := range []Status{StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired} {
		require.True(t, StatusPending.CanTransitionTo(next), string(next))
	}
	require.False(t, StatusPending.CanTransitionTo(StatusPending))

	// A swept expired invitation can be reissued or withdrawn, nothing else.
	require.True(t, StatusExpired.CanTransitionTo(StatusPending))
	require.True(t, StatusExpired.CanTransitionTo(StatusCancelled))
	require.False(t, StatusExpired.CanTransitionTo(StatusAccepted))
	require.False(t, StatusExpired.CanTransitionTo(StatusDeclined))

	// Accepted, declined and cancelled are final.
	for _, from := range []Status{StatusAccepted, StatusDeclined, StatusCancelled} {
		for _, next := range []Status{StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired} {
			require.False(t, from.CanTransitionTo(next), "%s -> %s", from, next)
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Now().UTC()

	inv := &Invitation{Status: StatusPending, ExpiresAt: now.Add(time.Hour)}
	require.Equal(t, StatusPending, inv.EffectiveStatus(now))

	inv.ExpiresAt = now.Add(-time.Minute)
	require.Equal(t, StatusExpired, inv.EffectiveStatus(now))

	// Resolved invitations keep their stored status even past the deadline.
	inv.Status = StatusAccepted
	require.Equal(t, StatusAccepted, inv.EffectiveStatus(now))

	inv.Status = StatusDeclined
	require.Equal(t, StatusDeclined, inv.EffectiveStatus(now))
}
