package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/core/event"
)

// Heartbeat fairness (invariant 9): every subscriber due in a tick fires
// exactly once, regardless of registration order or how long its neighbors
// take.
func TestTickFiresAllDueSubscribersOnce(t *testing.T) {
	bus := event.NewBus()
	s := New(time.Hour, bus, nil)

	var mu sync.Mutex
	fired := map[ecs.EntityID]int{}
	for i := 1; i <= 5; i++ {
		id := ecs.NewEntityID(uint32(i), 0)
		s.Subscribe(&Subscriber{
			EntityID: id,
			Period:   time.Millisecond,
			Fire: func(now time.Time) {
				mu.Lock()
				fired[id]++
				mu.Unlock()
			},
		})
	}

	time.Sleep(2 * time.Millisecond)
	s.tick(time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 5)
	for id, count := range fired {
		require.Equalf(t, 1, count, "subscriber %v fired %d times", id, count)
	}
}

func TestUnsubscribeStopsFutureFires(t *testing.T) {
	bus := event.NewBus()
	s := New(time.Hour, bus, nil)
	id := ecs.NewEntityID(1, 0)

	var fires int
	s.Subscribe(&Subscriber{
		EntityID: id,
		Period:   time.Millisecond,
		Fire:     func(now time.Time) { fires++ },
	})

	time.Sleep(2 * time.Millisecond)
	s.Unsubscribe(id)
	s.tick(time.Now())

	require.Equal(t, 0, fires)
}

func TestEffectExpiresAndFiresCallback(t *testing.T) {
	bus := event.NewBus()
	s := New(time.Hour, bus, nil)

	expired := make(chan struct{}, 1)
	s.AddEffect(&Effect{
		EntityID: ecs.NewEntityID(1, 0),
		Name:     "poison",
		Until:    time.Now().Add(-time.Millisecond),
		OnExpire: func() { expired <- struct{}{} },
	})

	s.tick(time.Now())

	select {
	case <-expired:
	default:
		t.Fatal("expected OnExpire to fire for an already-past effect")
	}
}

func TestEffectNotYetExpiredIsRetained(t *testing.T) {
	bus := event.NewBus()
	s := New(time.Hour, bus, nil)

	fired := false
	s.AddEffect(&Effect{
		EntityID: ecs.NewEntityID(1, 0),
		Until:    time.Now().Add(time.Hour),
		OnExpire: func() { fired = true },
	})

	s.tick(time.Now())
	require.False(t, fired)
	require.Len(t, s.effects, 1)
}

func TestOverrunTickEmitsHeartbeatMissed(t *testing.T) {
	bus := event.NewBus()
	s := New(time.Millisecond, bus, nil)

	var got event.HeartbeatMissed
	event.Subscribe(bus, func(e event.HeartbeatMissed) { got = e })

	s.Subscribe(&Subscriber{
		EntityID: ecs.NewEntityID(1, 0),
		Period:   time.Nanosecond,
		Fire:     func(now time.Time) { time.Sleep(5 * time.Millisecond) },
	})

	s.tick(time.Now())
	bus.SwapBuffers()
	bus.DispatchAll()

	require.NotZero(t, got.TickDuration)
}
