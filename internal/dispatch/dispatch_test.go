package dispatch

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/worldobj"
)

func newTestDispatcher() (*Dispatcher, *worldobj.Graph, ecs.EntityID, ecs.EntityID) {
	w := ecs.NewWorld()
	g := worldobj.NewGraph(w)
	room := g.Create("Room", "room:1")
	player := g.Create("Hero", "player:hero")
	_ = g.MoveTo(player, room)
	d := New(g)
	return d, g, player, room
}

func TestDispatchRunsRegisteredVerb(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	var ran bool
	d.Register(&Command{
		Verb: "look",
		Run: func(ctx context.Context, actor Actor, args string) error {
			ran = true
			return nil
		},
	})

	err := d.Dispatch(context.Background(), Actor{EntityID: player, Location: room}, "look")
	require.NoError(t, err)
	require.True(t, ran)
}

func TestDispatchUnknownVerbIsNotFound(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	err := d.Dispatch(context.Background(), Actor{EntityID: player, Location: room}, "xyzzy")
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
	require.Equal(t, "What?", errs.MessageOf(err))
}

func TestDispatchPermissionGating(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	d.Register(&Command{
		Verb:          "shutdown",
		MinPermission: PermissionAdmin,
		Run: func(ctx context.Context, actor Actor, args string) error {
			return nil
		},
	})

	err := d.Dispatch(context.Background(), Actor{EntityID: player, Location: room, Permission: PermissionPlayer}, "shutdown")
	require.Error(t, err)
	require.Equal(t, errs.KindPermissionDenied, errs.KindOf(err))
	require.Equal(t, "Permission denied", errs.MessageOf(err))

	err = d.Dispatch(context.Background(), Actor{EntityID: player, Location: room, Permission: PermissionAdmin}, "shutdown")
	require.NoError(t, err)
}

func TestDispatchAliasResolvesSameCommand(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	var ran string
	d.Register(&Command{
		Verb:    "say",
		Aliases: []string{"'"},
		Run: func(ctx context.Context, actor Actor, args string) error {
			ran = args
			return nil
		},
	})

	err := d.Dispatch(context.Background(), Actor{EntityID: player, Location: room}, "' hello there")
	require.NoError(t, err)
	require.Equal(t, "hello there", ran)
}

// Top-of-stack handler wins over the verb table, and popping restores
// normal verb dispatch.
func TestPushedHandlerInterceptsBeforeVerbTable(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	var seenLine string
	d.PushHandler(player, handlerFunc(func(ctx context.Context, actor Actor, line string) (bool, error) {
		seenLine = line
		return true, nil
	}))

	err := d.Dispatch(context.Background(), Actor{EntityID: player, Location: room}, "anything")
	require.NoError(t, err)
	require.Equal(t, "anything", seenLine)

	d.PopHandler(player)
	err = d.Dispatch(context.Background(), Actor{EntityID: player, Location: room}, "anything")
	require.Error(t, err) // now falls through to the (empty) verb table
}

func TestResolveTargetSupportsTrailingOrdinalForm(t *testing.T) {
	d, g, player, room := newTestDispatcher()
	sword1 := g.Create("Sword", "item:sword1")
	sword2 := g.Create("Sword", "item:sword2")
	_ = g.MoveTo(sword1, room)
	_ = g.MoveTo(sword2, room)

	actor := Actor{EntityID: player, Location: room}
	found, ok, reason := d.ResolveTarget(actor, "sword 2")
	require.True(t, ok)
	require.Empty(t, reason)
	require.Equal(t, sword2, found)
}

// Scenario 5: an out-of-range ordinal reports exactly how many matches
// exist instead of a generic not-found message.
func TestResolveTargetOrdinalOutOfRangeReportsCount(t *testing.T) {
	d, g, player, room := newTestDispatcher()
	for i := 0; i < 3; i++ {
		deer := g.Create("Deer", "npc:deer"+strconv.Itoa(i))
		_ = g.MoveTo(deer, room)
	}

	actor := Actor{EntityID: player, Location: room}
	_, ok, reason := d.ResolveTarget(actor, "deer 5")
	require.False(t, ok)
	require.Equal(t, "There are only 3 deer here.", reason)
}

func TestResolveTargetKeywordsResolveToActorAndLocation(t *testing.T) {
	d, _, player, room := newTestDispatcher()
	actor := Actor{EntityID: player, Location: room}

	for _, kw := range []string{"me", "self", "myself"} {
		found, ok, _ := d.ResolveTarget(actor, kw)
		require.True(t, ok)
		require.Equal(t, player, found)
	}

	found, ok, _ := d.ResolveTarget(actor, "here")
	require.True(t, ok)
	require.Equal(t, room, found)
}

// The dispatcher's scope union includes the actor's own inventory, not just
// its environment's contents.
func TestResolveTargetSearchesActorInventoryToo(t *testing.T) {
	d, g, player, room := newTestDispatcher()
	coin := g.Create("Coin", "item:coin")
	_ = g.MoveTo(coin, player)

	actor := Actor{EntityID: player, Location: room}
	found, ok, _ := d.ResolveTarget(actor, "coin")
	require.True(t, ok)
	require.Equal(t, coin, found)
}

type handlerFunc func(ctx context.Context, actor Actor, line string) (bool, error)

func (f handlerFunc) HandleLine(ctx context.Context, actor Actor, line string) (bool, error) {
	return f(ctx, actor, line)
}
