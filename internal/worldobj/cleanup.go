package worldobj

import (
	"time"

	"github.com/mudforge/driver/internal/core/ecs"
	coresystem "github.com/mudforge/driver/internal/core/system"
)

// CleanupSystem flushes the world's deferred destruction queue at the end
// of each tick, per World.FlushDestroyQueue's own documented contract
// ("called by CleanupSystem at the end of each tick") — the caller that
// contract was written for but, until now, never had.
type CleanupSystem struct {
	world *ecs.World
}

func NewCleanupSystem(world *ecs.World) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Phase() coresystem.Phase { return coresystem.PhaseCleanup }

func (s *CleanupSystem) Update(time.Duration) {
	s.world.FlushDestroyQueue()
}
