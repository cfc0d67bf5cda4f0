package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEmbedded(t *testing.T) *Embedded {
	t.Helper()
	e, err := NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// Persistence round-trip (invariant 8): save then load returns byte-identical
// payload, for every record shape the Store exposes.
func TestEmbeddedPlayerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbedded(t)

	require.NoError(t, s.SavePlayer(ctx, "Tanek", []byte(`{"hp":10}`)))

	payload, ok, err := s.LoadPlayer(ctx, "Tanek")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"hp":10}`), payload)

	exists, err := s.PlayerExists(ctx, "Tanek")
	require.NoError(t, err)
	require.True(t, exists)

	_, ok, err = s.LoadPlayer(ctx, "NoSuchPlayer")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmbeddedListAndDeletePlayers(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbedded(t)

	require.NoError(t, s.SavePlayer(ctx, "Ayra", []byte(`{}`)))
	require.NoError(t, s.SavePlayer(ctx, "Borin", []byte(`{}`)))

	names, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Ayra", "Borin"}, names)

	deleted, err := s.DeletePlayer(ctx, "Ayra")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.DeletePlayer(ctx, "Ayra")
	require.NoError(t, err)
	require.False(t, deleted)

	names, err = s.ListPlayers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Borin"}, names)
}

func TestEmbeddedWorldAndPermissionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbedded(t)

	_, ok, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveWorld(ctx, []byte(`{"rooms":3}`)))
	payload, ok, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"rooms":3}`), payload)

	require.NoError(t, s.SavePermissions(ctx, []byte(`{"wiz":["Ayra"]}`)))
	payload, ok, err = s.LoadPermissions(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"wiz":["Ayra"]}`), payload)
}

func TestEmbeddedNamespacedDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbedded(t)

	require.NoError(t, s.SaveData(ctx, "daemons", "mailroom", []byte(`{"queued":0}`)))

	exists, err := s.DataExists(ctx, "daemons", "mailroom")
	require.NoError(t, err)
	require.True(t, exists)

	keys, err := s.ListKeys(ctx, "daemons")
	require.NoError(t, err)
	require.Equal(t, []string{"mailroom"}, keys)

	deleted, err := s.DeleteData(ctx, "daemons", "mailroom")
	require.NoError(t, err)
	require.True(t, deleted)

	exists, err = s.DataExists(ctx, "daemons", "mailroom")
	require.NoError(t, err)
	require.False(t, exists)
}

// A save that overwrites an existing record must never leave a reader
// observing a mix of old and new bytes: re-saving with different content and
// reading back must show only the new content, never a truncated file.
func TestEmbeddedOverwriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbedded(t)

	require.NoError(t, s.SavePlayer(ctx, "Tanek", []byte(`{"hp":10}`)))
	require.NoError(t, s.SavePlayer(ctx, "Tanek", []byte(`{"hp":99,"mp":5}`)))

	payload, ok, err := s.LoadPlayer(ctx, "Tanek")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"hp":99,"mp":5}`), payload)
}
