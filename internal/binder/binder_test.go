package binder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/codec"
	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/session"
)

func newTestSession(id string) *session.Session {
	return session.New(id, nil, session.Watermarks{Soft: 100, Hard: 200, Critical: 300}, nil)
}

func TestBindThenByEntityAndBySession(t *testing.T) {
	b := New()
	sess := newTestSession("s1")
	entity := ecs.NewEntityID(1, 0)

	bind := b.Bind(sess, entity, NewThrottle(10, time.Second))

	byE, ok := b.ByEntity(entity)
	require.True(t, ok)
	require.Same(t, bind, byE)

	byS, ok := b.BySession("s1")
	require.True(t, ok)
	require.Same(t, bind, byS)

	got, ok := sess.BoundEntity()
	require.True(t, ok)
	require.Equal(t, entity, got)
}

func TestRebindingEntityReplacesOldSession(t *testing.T) {
	b := New()
	entity := ecs.NewEntityID(1, 0)
	sess1 := newTestSession("s1")
	sess2 := newTestSession("s2")

	b.Bind(sess1, entity, NewThrottle(10, time.Second))
	b.Bind(sess2, entity, NewThrottle(10, time.Second))

	_, ok := b.BySession("s1")
	require.False(t, ok)

	byE, ok := b.ByEntity(entity)
	require.True(t, ok)
	require.Equal(t, sess2, byE.Session)
}

func TestUnbindSessionClearsBothSides(t *testing.T) {
	b := New()
	entity := ecs.NewEntityID(1, 0)
	sess := newTestSession("s1")
	b.Bind(sess, entity, NewThrottle(10, time.Second))

	b.UnbindSession("s1")

	_, ok := b.ByEntity(entity)
	require.False(t, ok)
	_, ok = sess.BoundEntity()
	require.False(t, ok)
}

func TestSendFrameToUnboundEntityIsNoop(t *testing.T) {
	b := New()
	err := b.SendFrame(ecs.NewEntityID(99, 0), codec.TypeStats, map[string]int{"hp": 1})
	require.NoError(t, err)
}

func TestThrottleAllowsUpToMaxThenBlocks(t *testing.T) {
	th := NewThrottle(2, time.Minute)
	now := time.Now()
	require.True(t, th.Allow(now))
	require.True(t, th.Allow(now))
	require.False(t, th.Allow(now))
}

func TestThrottleRefillsAfterWindow(t *testing.T) {
	th := NewThrottle(1, time.Millisecond)
	now := time.Now()
	require.True(t, th.Allow(now))
	require.False(t, th.Allow(now))
	require.True(t, th.Allow(now.Add(5*time.Millisecond)))
}
