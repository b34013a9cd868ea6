// Package roster keeps the authoritative set of logged-in connections.
//
// The Roster holds non-owning references: it never closes or frees a
// member, it only records the username bound at login and flips the
// member's "roster changed" flag when membership moves.  All operations
// take a single mutex and never perform I/O while holding it, so an
// enumeration can never observe a half-added or half-removed member.
package roster

import (
	"sort"
	"sync"

	ncerr "rollcall/internal/errors"
)

// Member is a connection as seen by the Roster.
type Member interface {
	// ID returns the connection's opaque identity.
	ID() string
	// MarkRosterChanged sets the member's dirty flag.  It must not
	// block or call back into the Roster.
	MarkRosterChanged()
}

type entry struct {
	member   Member
	username string
	seq      uint64
}

// Roster is safe for concurrent use.
type Roster struct {
	mu      sync.Mutex
	members map[string]*entry
	nextSeq uint64
	onEvent func(ev Event)
}

// EventKind tells a Roster observer what happened.
type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
)

// Event describes one membership change.  Size is the roster size
// after the change.
type Event struct {
	Kind     EventKind
	ID       string
	Username string
	Size     int
}

// Option configures a Roster.
type Option func(*Roster)

// WithObserver registers fn to be called after every membership
// change, outside the roster lock.
func WithObserver(fn func(Event)) Option {
	return func(r *Roster) { r.onEvent = fn }
}

// New returns an empty Roster.
func New(opts ...Option) *Roster {
	r := &Roster{members: make(map[string]*entry)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register binds username to m and marks every other member changed.
// It fails with ErrDuplicateLogin if m is already registered.
func (r *Roster) Register(m Member, username string) error {
	r.mu.Lock()
	if _, ok := r.members[m.ID()]; ok {
		r.mu.Unlock()
		return ncerr.ErrDuplicateLogin
	}
	r.nextSeq++
	r.members[m.ID()] = &entry{member: m, username: username, seq: r.nextSeq}
	r.markLocked(m.ID())
	size := len(r.members)
	r.mu.Unlock()

	r.notify(Event{Kind: EventJoin, ID: m.ID(), Username: username, Size: size})
	return nil
}

// Unregister removes m and marks every remaining member changed.  It
// reports whether m was present; removing an absent member is a no-op.
func (r *Roster) Unregister(m Member) bool {
	r.mu.Lock()
	e, ok := r.members[m.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, m.ID())
	r.markLocked("")
	size := len(r.members)
	r.mu.Unlock()

	r.notify(Event{Kind: EventLeave, ID: m.ID(), Username: e.username, Size: size})
	return true
}

// Snapshot returns the usernames of all members in registration order.
func (r *Roster) Snapshot() []string {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.members))
	for _, e := range r.members {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.username
	}
	return names
}

// MarkAllChanged sets the dirty flag on every member other than except,
// which may be nil.
func (r *Roster) MarkAllChanged(except Member) {
	id := ""
	if except != nil {
		id = except.ID()
	}
	r.mu.Lock()
	r.markLocked(id)
	r.mu.Unlock()
}

// Contains reports whether m is registered.
func (r *Roster) Contains(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[m.ID()]
	return ok
}

// Len returns the number of registered members.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Roster) markLocked(exceptID string) {
	for id, e := range r.members {
		if id != exceptID {
			e.member.MarkRosterChanged()
		}
	}
}

func (r *Roster) notify(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}
