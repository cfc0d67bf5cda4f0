package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/dispatch"
	"github.com/mudforge/driver/internal/store"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	s, err := store.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestRegisterThenAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	rec, err := a.Register(ctx, "Hero", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "hero", rec.Name)
	require.Equal(t, dispatch.PermissionPlayer, rec.Permission)

	got, err := a.Authenticate(ctx, "Hero", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, rec.Name, got.Name)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	_, err := a.Register(ctx, "Hero", "correct-horse")
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, "Hero", "wrong-password")
	require.Error(t, err)
}

func TestAuthenticateRejectsUnknownPlayer(t *testing.T) {
	a := newTestAuthenticator(t)
	_, err := a.Authenticate(context.Background(), "NoSuchHero", "anything")
	require.Error(t, err)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	_, err := a.Register(ctx, "Hero", "pw")
	require.NoError(t, err)

	_, err = a.Register(ctx, "hero", "other-pw")
	require.Error(t, err)
}

// Unbind accumulates play_time and is non-destructive — the record can be
// re-authenticated and rebound afterwards (spec §3).
func TestUnbindAccumulatesPlayTimeAndIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	rec, err := a.Register(ctx, "Hero", "pw")
	require.NoError(t, err)

	a.MarkBound(rec)
	require.NoError(t, a.Unbind(ctx, "Hero"))
	require.Greater(t, rec.PlayTime, time.Duration(0))

	again, err := a.Authenticate(ctx, "Hero", "pw")
	require.NoError(t, err)
	require.Equal(t, rec.PlayTime, again.PlayTime)
}

func TestPermissionFallsBackToPlayerWhenUnbound(t *testing.T) {
	a := newTestAuthenticator(t)
	require.Equal(t, dispatch.PermissionPlayer, a.Permission("nobody"))
}
