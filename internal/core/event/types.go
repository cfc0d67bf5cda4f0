package event

import "github.com/mudforge/driver/internal/core/ecs"

// SessionBound describes a connection's session being matched to a
// player's world object (spec §4.I bind). No package emits it; the binder
// binds without a bus.
type SessionBound struct {
	EntityID  ecs.EntityID
	SessionID string
}

// SessionUnbound describes a player disconnecting or a session token
// expiring: EntityID stays valid, the world object just stops receiving
// output. No package emits it.
type SessionUnbound struct {
	EntityID  ecs.EntityID
	SessionID string
	Reason    string
}

// ObjectDestroyed describes an entity being torn down. FlushDestroyQueue
// does not emit it, and no other package does either.
type ObjectDestroyed struct {
	EntityID ecs.EntityID
}

// ObjectMoved describes an object's container changing (spec §8 invariant
// 1/2: inventory/environment duality, acyclic containment). Graph.MoveTo
// does not emit it, and no other package does either.
type ObjectMoved struct {
	EntityID    ecs.EntityID
	FromParent  ecs.EntityID
	ToParent    ecs.EntityID
}

// HeartbeatMissed fires when a tick overruns its period budget, so operators
// can see scheduler pressure without scraping logs (spec §8 invariant 9).
type HeartbeatMissed struct {
	TickDuration int64 // nanoseconds
	TickPeriod   int64 // nanoseconds
}
