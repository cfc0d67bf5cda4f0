// Package worldobj implements the world object graph from spec §4.E: every
// in-world thing (room, player, item, daemon-owned prop) is an entity in the
// ECS world with a Location component describing what contains it and what
// it contains. Grounded on internal/core/ecs's generational entity pool and
// generic component stores, used here in place of the teacher's
// character/item-specific component set.
package worldobj

import (
	"strings"

	"github.com/mudforge/driver/internal/core/ecs"
)

// Location is the containment component: every object has at most one
// parent (its environment) and a list of children (its contents), enforcing
// the inventory/environment duality and acyclic containment invariants.
type Location struct {
	Parent   ecs.EntityID
	Children []ecs.EntityID
}

// Identity is the descriptive component every addressable object carries.
type Identity struct {
	Name     string
	Aliases  []string
	ObjectID string // stable, author-assigned id used for id-matching lookups
}

// Graph owns the Location/Identity component stores and enforces the
// containment invariants when moving objects.
type Graph struct {
	world    *ecs.World
	location *ecs.PtrComponentStore[Location]
	identity *ecs.PtrComponentStore[Identity]
}

func NewGraph(world *ecs.World) *Graph {
	loc := ecs.NewPtrComponentStore[Location]()
	ident := ecs.NewPtrComponentStore[Identity]()
	world.Registry().Register(loc)
	world.Registry().Register(ident)
	return &Graph{world: world, location: loc, identity: ident}
}

// Create allocates a new object with the given identity and no parent.
func (g *Graph) Create(name, objectID string, aliases ...string) ecs.EntityID {
	id := g.world.CreateEntity()
	g.identity.Set(id, &Identity{Name: name, Aliases: aliases, ObjectID: objectID})
	g.location.Set(id, &Location{})
	return id
}

// Identity returns the descriptive component for id, if it still exists.
func (g *Graph) Identity(id ecs.EntityID) (*Identity, bool) {
	return g.identity.Get(id)
}

// Location returns the containment component for id, if it still exists.
func (g *Graph) Location(id ecs.EntityID) (*Location, bool) {
	return g.location.Get(id)
}

// Children returns id's current contents (a snapshot; safe to range over
// while the caller also mutates the graph).
func (g *Graph) Children(id ecs.EntityID) []ecs.EntityID {
	loc, ok := g.location.Get(id)
	if !ok {
		return nil
	}
	out := make([]ecs.EntityID, len(loc.Children))
	copy(out, loc.Children)
	return out
}

// IsAncestor reports whether candidate is somewhere in id's parent chain —
// the check moveTo uses to reject a move that would create a containment
// cycle (spec §8 invariant 2: acyclic containment).
func (g *Graph) IsAncestor(candidate, id ecs.EntityID) bool {
	cur := id
	for {
		loc, ok := g.location.Get(cur)
		if !ok || loc.Parent.IsZero() {
			return false
		}
		if loc.Parent == candidate {
			return true
		}
		cur = loc.Parent
	}
}

// ErrCycle is returned by MoveTo when the destination is inside the object
// being moved.
type ErrCycle struct {
	Object      ecs.EntityID
	Destination ecs.EntityID
}

func (e ErrCycle) Error() string {
	return "moving object would create a containment cycle"
}

// MoveTo relocates id from its current parent to newParent, maintaining
// both sides of the containment relationship atomically: id never appears
// in two parents' Children lists, and it is always in exactly one (or zero,
// for a root object) at any point an observer can look.
func (g *Graph) MoveTo(id, newParent ecs.EntityID) error {
	if id == newParent || g.IsAncestor(id, newParent) {
		return ErrCycle{Object: id, Destination: newParent}
	}

	loc, ok := g.location.Get(id)
	if !ok {
		return nil
	}

	if !loc.Parent.IsZero() {
		if oldParentLoc, ok := g.location.Get(loc.Parent); ok {
			oldParentLoc.Children = removeID(oldParentLoc.Children, id)
		}
	}

	loc.Parent = newParent
	if !newParent.IsZero() {
		if newParentLoc, ok := g.location.Get(newParent); ok {
			newParentLoc.Children = append(newParentLoc.Children, id)
		}
	}
	return nil
}

func removeID(list []ecs.EntityID, id ecs.EntityID) []ecs.EntityID {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Destroy detaches id from its parent and relocates its former children to
// id's own former parent (so destroying a container never strands its
// contents), then queues id itself for end-of-tick cleanup. Calling Destroy twice on
// the same id is a no-op the second time (spec §8 invariant 4: destruction
// idempotence) because FlushDestroyQueue's generation bump makes g.world.Alive
// false and Location lookups miss.
func (g *Graph) Destroy(id ecs.EntityID) {
	loc, ok := g.location.Get(id)
	if !ok {
		return
	}
	for _, child := range append([]ecs.EntityID(nil), loc.Children...) {
		_ = g.MoveTo(child, loc.Parent)
	}
	_ = g.MoveTo(id, ecs.EntityID(0))
	g.world.MarkForDestruction(id)
}

// Resolve finds the first object directly contained in scope whose name,
// alias, or object id matches token case-insensitively — the single-token
// half of the dispatcher's scope resolution from spec §4.G.
func (g *Graph) Resolve(scope ecs.EntityID, token string) (ecs.EntityID, bool) {
	return g.ResolveAmong(g.Children(scope), token)
}

// ResolveIndexed is Resolve's trailing-ordinal form ("sword 2"): the Nth
// (1-based) matching object in scope, for disambiguating multiple objects
// with the same name.
func (g *Graph) ResolveIndexed(scope ecs.EntityID, token string, ordinal int) (ecs.EntityID, bool) {
	found, _, ok := g.ResolveIndexedAmong(g.Children(scope), token, ordinal)
	return found, ok
}

// ResolveAmong is Resolve generalized to an arbitrary candidate list, so
// callers can search a scope union (e.g. an actor's inventory plus its
// environment's contents) instead of a single container's children.
func (g *Graph) ResolveAmong(candidates []ecs.EntityID, token string) (ecs.EntityID, bool) {
	for _, c := range candidates {
		ident, ok := g.identity.Get(c)
		if !ok {
			continue
		}
		if Matches(ident, token) {
			return c, true
		}
	}
	return ecs.EntityID(0), false
}

// ResolveIndexedAmong is ResolveIndexed generalized to an arbitrary
// candidate list. It also returns the total number of matches found, so a
// caller can report "There are only N <type> here." when ordinal exceeds
// that count (spec §4.G, §8 scenario 5) instead of just reporting failure.
func (g *Graph) ResolveIndexedAmong(candidates []ecs.EntityID, token string, ordinal int) (found ecs.EntityID, total int, ok bool) {
	for _, c := range candidates {
		ident, identOK := g.identity.Get(c)
		if !identOK || !Matches(ident, token) {
			continue
		}
		total++
		if total == ordinal {
			found, ok = c, true
		}
	}
	return found, total, ok
}

// FindByObjectID scans every live object for the one whose Identity holds
// the given stable object id. Runtime EntityIDs are not stable across
// process restarts, so a persisted reference (e.g. a player's last-known
// room) is recorded by ObjectID and re-resolved through this after Restore.
func (g *Graph) FindByObjectID(objectID string) (ecs.EntityID, bool) {
	var found ecs.EntityID
	ok := false
	g.identity.Each(func(id ecs.EntityID, ident *Identity) {
		if ok || ident.ObjectID != objectID {
			return
		}
		found, ok = id, true
	})
	return found, ok
}

// Matches reports whether token (case-insensitively) names ident by name,
// alias, or object id — the keyword-free leaf of the dispatcher's target
// resolution.
func Matches(ident *Identity, token string) bool {
	token = strings.ToLower(token)
	if strings.ToLower(ident.Name) == token || strings.ToLower(ident.ObjectID) == token {
		return true
	}
	for _, alias := range ident.Aliases {
		if strings.ToLower(alias) == token {
			return true
		}
	}
	return false
}

// ObjectSnapshot is one serializable object in a graph snapshot, keyed by
// the stable ObjectID rather than the runtime EntityID (spec §4.L).
type ObjectSnapshot struct {
	ObjectID       string   `json:"object_id"`
	Name           string   `json:"name"`
	Aliases        []string `json:"aliases,omitempty"`
	ParentObjectID string   `json:"parent_object_id,omitempty"`
}

// Snapshot serializes every live object in the graph for crash-safe
// persistence. Objects are identified by ObjectID, never by EntityID, since
// the latter is only valid for the lifetime of one process.
func (g *Graph) Snapshot() []ObjectSnapshot {
	var out []ObjectSnapshot
	g.identity.Each(func(id ecs.EntityID, ident *Identity) {
		if !g.world.Alive(id) {
			return
		}
		var parentObjectID string
		if loc, ok := g.location.Get(id); ok && !loc.Parent.IsZero() {
			if parentIdent, ok := g.identity.Get(loc.Parent); ok {
				parentObjectID = parentIdent.ObjectID
			}
		}
		out = append(out, ObjectSnapshot{
			ObjectID:       ident.ObjectID,
			Name:           ident.Name,
			Aliases:        ident.Aliases,
			ParentObjectID: parentObjectID,
		})
	})
	return out
}

// Restore rebuilds the graph from a snapshot taken by Snapshot. Runtime
// EntityIDs are not stable across restarts, so this runs in two passes:
// first every object is recreated under a freshly minted EntityID, then
// parent links are re-established by looking up each recorded
// ParentObjectID among the objects just created.
func (g *Graph) Restore(objects []ObjectSnapshot) {
	byObjectID := make(map[string]ecs.EntityID, len(objects))
	for _, o := range objects {
		byObjectID[o.ObjectID] = g.Create(o.Name, o.ObjectID, o.Aliases...)
	}
	for _, o := range objects {
		if o.ParentObjectID == "" {
			continue
		}
		parent, ok := byObjectID[o.ParentObjectID]
		if !ok {
			continue
		}
		_ = g.MoveTo(byObjectID[o.ObjectID], parent)
	}
}
