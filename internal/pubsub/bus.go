// Package pubsub provides the group-publish primitive the hub fans events
// out through.
//
// The contract is deliberately narrow so the in-process implementation can be
// swapped for an external broker in multi-process deployments: subscribers
// receive every event published to a group they are subscribed to, in publish
// order per group. No ordering is guaranteed across groups.
package pubsub

import "sync"

// Handler receives events for groups it is subscribed to.
//
// OnEvent must not block: it runs on the publishing goroutine while the
// group's fanout lock is held. Receivers that need buffering (e.g. a slow
// network peer) must enqueue and return.
type Handler interface {
	OnEvent(group string, event any)
}

// Bus is the group-publish service consumed by hub sessions.
type Bus interface {
	// Subscribe adds h to the group's membership.
	Subscribe(group string, h Handler) error
	// Unsubscribe removes h from the group. Removing a non-member is a no-op.
	Unsubscribe(group string, h Handler) error
	// Publish delivers event to every handler currently subscribed to group.
	Publish(group string, event any) error
}

type group struct {
	mu       sync.Mutex
	handlers map[Handler]struct{}

	// dead is set under mu when the reap removes the group from the map.
	// A subscriber that raced the reap and landed on a detached group
	// observes it and retries against the live map entry.
	dead bool
}

// Local is an in-process Bus backed by a concurrent-safe mapping from group
// key to subscriber set. Safe for subscribe/unsubscribe/publish from
// arbitrarily many goroutines.
type Local struct {
	mu     sync.RWMutex
	groups map[string]*group
}

func NewLocal() *Local {
	return &Local{
		groups: make(map[string]*group),
	}
}

func (b *Local) Subscribe(groupKey string, h Handler) error {
	for {
		b.mu.Lock()
		g, ok := b.groups[groupKey]
		if !ok {
			g = &group{handlers: make(map[Handler]struct{})}
			b.groups[groupKey] = g
		}
		b.mu.Unlock()

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.handlers[h] = struct{}{}
		g.mu.Unlock()
		return nil
	}
}

func (b *Local) Unsubscribe(groupKey string, h Handler) error {
	b.mu.RLock()
	g, ok := b.groups[groupKey]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	g.mu.Lock()
	delete(g.handlers, h)
	empty := len(g.handlers) == 0
	g.mu.Unlock()

	// Groups exist only while subscribed; drop the entry once empty. A racing
	// Subscribe may re-add the key with a fresh group, which is fine.
	if empty {
		b.mu.Lock()
		if cur, ok := b.groups[groupKey]; ok && cur == g {
			cur.mu.Lock()
			if len(cur.handlers) == 0 {
				cur.dead = true
				delete(b.groups, groupKey)
			}
			cur.mu.Unlock()
		}
		b.mu.Unlock()
	}
	return nil
}

func (b *Local) Publish(groupKey string, event any) error {
	b.mu.RLock()
	g, ok := b.groups[groupKey]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	// Fanout happens under the group lock so every subscriber observes the
	// same publish order for a group. Handlers are required to be
	// non-blocking, so one subscriber cannot stall delivery to another.
	g.mu.Lock()
	defer g.mu.Unlock()
	for h := range g.handlers {
		h.OnEvent(groupKey, event)
	}
	return nil
}

// Stats returns the number of live groups and total subscriptions.
func (b *Local) Stats() (groups, subscribers int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	groups = len(b.groups)
	for _, g := range b.groups {
		g.mu.Lock()
		subscribers += len(g.handlers)
		g.mu.Unlock()
	}
	return groups, subscribers
}
