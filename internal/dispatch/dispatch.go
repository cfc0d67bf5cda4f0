// Package dispatch implements the command/action dispatcher from spec §4.G:
// a per-player stack of input handlers, verb resolution against a command
// table, permission gating, and scope-based target resolution over the
// world object graph. Grounded on the teacher's internal/system/input.go
// handler-chain shape, generalized from its fixed L1J command set to an
// open, registrable verb table.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/worldobj"
)

// Actor is the calling context a command executes with: who issued it, from
// where, and with what permission level.
type Actor struct {
	EntityID   ecs.EntityID
	Location   ecs.EntityID
	Permission Permission
}

// Permission is an ordered permission level; a command's MinPermission is
// satisfied by any actor whose level is >= it.
type Permission int

const (
	PermissionPlayer Permission = iota
	PermissionBuilder
	PermissionSeniorBuilder
	PermissionAdmin
)

// Command is one registrable verb.
type Command struct {
	Verb          string
	Aliases       []string
	MinPermission Permission
	Run           func(ctx context.Context, actor Actor, args string) error
}

// InputHandler intercepts a raw input line before verb dispatch — used for
// things like a line editor or a confirmation prompt that owns the next
// line of input regardless of what it says. Returning handled=true stops
// the line from reaching the command table.
type InputHandler interface {
	HandleLine(ctx context.Context, actor Actor, line string) (handled bool, err error)
}

// Dispatcher resolves command lines to registered Commands and runs them,
// per player, through that player's handler stack.
type Dispatcher struct {
	commands map[string]*Command
	stacks   map[ecs.EntityID][]InputHandler
	graph    *worldobj.Graph
}

func New(graph *worldobj.Graph) *Dispatcher {
	return &Dispatcher{
		commands: make(map[string]*Command),
		stacks:   make(map[ecs.EntityID][]InputHandler),
		graph:    graph,
	}
}

// Register adds a command, indexed under its verb and every alias.
func (d *Dispatcher) Register(cmd *Command) {
	d.commands[strings.ToLower(cmd.Verb)] = cmd
	for _, alias := range cmd.Aliases {
		d.commands[strings.ToLower(alias)] = cmd
	}
}

// PushHandler installs a handler on top of actor's stack; it sees input
// lines before the command table until popped.
func (d *Dispatcher) PushHandler(id ecs.EntityID, h InputHandler) {
	d.stacks[id] = append(d.stacks[id], h)
}

// PopHandler removes the top handler from actor's stack, if any.
func (d *Dispatcher) PopHandler(id ecs.EntityID) {
	stack := d.stacks[id]
	if len(stack) == 0 {
		return
	}
	d.stacks[id] = stack[:len(stack)-1]
}

// Dispatch resolves and runs one input line for actor. Lookup order: the
// top of actor's handler stack gets first refusal, then the verb table.
// An unresolved or under-permissioned verb returns a typed error rather
// than silently doing nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, line string) error {
	stack := d.stacks[actor.EntityID]
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		handled, err := top.HandleLine(ctx, actor, line)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	verb, args := splitVerb(line)
	if verb == "" {
		return errs.New(errs.KindProtocol, "empty command line", nil)
	}

	cmd, ok := d.commands[strings.ToLower(verb)]
	if !ok {
		return errs.New(errs.KindNotFound, "What?", nil)
	}
	if actor.Permission < cmd.MinPermission {
		return errs.New(errs.KindPermissionDenied, "Permission denied", nil)
	}

	return cmd.Run(ctx, actor, args)
}

func splitVerb(line string) (verb, rest string) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// ResolveTarget resolves a single argument token to an object, searching
// actor's own inventory and its environment's contents (spec §4.G's scope
// union), honoring the me/self/myself/here keywords and the trailing
// ordinal-disambiguation form ("deer 2" selects the 2nd deer). On failure
// the returned string is the player-facing reason: an out-of-range ordinal
// reports exactly how many matches exist ("There are only 3 deer here."),
// per spec §8 scenario 5.
func (d *Dispatcher) ResolveTarget(actor Actor, token string) (ecs.EntityID, bool, string) {
	token = strings.TrimSpace(token)
	switch strings.ToLower(token) {
	case "me", "self", "myself":
		return actor.EntityID, true, ""
	case "here":
		return actor.Location, true, ""
	}

	name, ordinal := splitTrailingOrdinal(token)
	candidates := d.scopeCandidates(actor)

	if ordinal > 0 {
		found, total, ok := d.graph.ResolveIndexedAmong(candidates, name, ordinal)
		if ok {
			return found, true, ""
		}
		if total > 0 {
			return ecs.EntityID(0), false, fmt.Sprintf("There are only %d %s here.", total, name)
		}
		return ecs.EntityID(0), false, "You don't see that here."
	}

	found, ok := d.graph.ResolveAmong(candidates, name)
	if !ok {
		return ecs.EntityID(0), false, "You don't see that here."
	}
	return found, true, ""
}

// ResolveAll resolves the "all" / "all <type>" target forms to every
// matching object across actor's scope union, for commands (e.g. "get all",
// "drop all coins") that act on more than one target at once.
func (d *Dispatcher) ResolveAll(actor Actor, token string) []ecs.EntityID {
	candidates := d.scopeCandidates(actor)
	rest := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(token)), "all"))
	if rest == "" {
		return candidates
	}
	var out []ecs.EntityID
	for _, c := range candidates {
		ident, ok := d.graph.Identity(c)
		if ok && worldobj.Matches(ident, rest) {
			out = append(out, c)
		}
	}
	return out
}

// scopeCandidates is actor's inventory union its environment's contents —
// the scope spec §4.G's command dispatch resolves targets against.
func (d *Dispatcher) scopeCandidates(actor Actor) []ecs.EntityID {
	candidates := d.graph.Children(actor.EntityID)
	candidates = append(candidates, d.graph.Children(actor.Location)...)
	return candidates
}

// splitTrailingOrdinal splits a trailing "<name> <n>" ordinal suffix off
// token, e.g. "deer 2" -> ("deer", 2). A token with no trailing integer, or
// whose only token is itself numeric, is returned unchanged with ordinal 0.
func splitTrailingOrdinal(token string) (name string, ordinal int) {
	i := strings.LastIndexAny(token, " \t")
	if i < 0 {
		return token, 0
	}
	last := strings.TrimSpace(token[i+1:])
	n, err := strconv.Atoi(last)
	if err != nil || n < 1 {
		return token, 0
	}
	return strings.TrimSpace(token[:i]), n
}
