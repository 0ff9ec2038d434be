package core

import (
	"encoding/json"
	"sync"
)

// Member is one logical user occupying a presence channel, keyed by UserID.
// A user with several open connections is still a single member.
type Member struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// JoinTransition is the outcome of registering a connection for a user.
type JoinTransition int

const (
	// FirstJoin means no other live connection mapped to the user before.
	FirstJoin JoinTransition = iota
	// AlreadyPresent means the user was already occupying the channel.
	AlreadyPresent
)

// LeaveTransition is the outcome of deregistering a connection for a user.
type LeaveTransition int

const (
	// LastLeave means the user's final connection left; the member is gone.
	LastLeave LeaveTransition = iota
	// StillPresent means other connections keep the user in the channel.
	StillPresent
	// NotFound means the connection was not tracked for the user.
	NotFound
)

type presenceEntry struct {
	member Member
	conns  map[string]int
}

type channelPresence struct {
	order []string
	users map[string]*presenceEntry
}

// PresenceRegistry tracks which users occupy which presence channels, counting
// connections per user so that join/leave webhooks fire once per user
// transition, not once per socket. All state is in-memory and process-scoped.
type PresenceRegistry struct {
	mu       sync.Mutex
	channels map[string]*channelPresence
}

// NewPresenceRegistry builds an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{channels: make(map[string]*channelPresence)}
}

// Join associates connID with member in the channel. FirstJoin is returned
// iff no other live connection currently maps to the member's user; the
// connection count is incremented either way. The check and the increment are
// a single atomic step, so two in-flight joins for one user's two connections
// serialize to exactly one FirstJoin.
func (r *PresenceRegistry) Join(channel, connID string, member Member) JoinTransition {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[channel]
	if ch == nil {
		ch = &channelPresence{users: make(map[string]*presenceEntry)}
		r.channels[channel] = ch
	}

	entry := ch.users[member.UserID]
	if entry == nil {
		ch.users[member.UserID] = &presenceEntry{
			member: member,
			conns:  map[string]int{connID: 1},
		}
		ch.order = append(ch.order, member.UserID)
		return FirstJoin
	}

	entry.conns[connID]++
	return AlreadyPresent
}

// Leave decrements the connection count for userID. LastLeave is returned iff
// the count reaches zero, removing the member entry; StillPresent if other
// connections remain; NotFound if the connection was never tracked (leave is
// idempotent, the caller treats NotFound as a no-op).
func (r *PresenceRegistry) Leave(channel, connID, userID string) LeaveTransition {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[channel]
	if ch == nil {
		return NotFound
	}
	entry := ch.users[userID]
	if entry == nil {
		return NotFound
	}
	count, ok := entry.conns[connID]
	if !ok {
		return NotFound
	}

	if count > 1 {
		entry.conns[connID] = count - 1
		return StillPresent
	}
	delete(entry.conns, connID)
	if len(entry.conns) > 0 {
		return StillPresent
	}

	delete(ch.users, userID)
	for i, id := range ch.order {
		if id == userID {
			ch.order = append(ch.order[:i], ch.order[i+1:]...)
			break
		}
	}
	if len(ch.users) == 0 {
		delete(r.channels, channel)
	}
	return LastLeave
}

// Members returns a snapshot of the channel's roster in join order. The slice
// is a copy and safe to iterate while joins and leaves proceed.
func (r *PresenceRegistry) Members(channel string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[channel]
	if ch == nil {
		return nil
	}
	members := make([]Member, 0, len(ch.order))
	for _, id := range ch.order {
		if entry := ch.users[id]; entry != nil {
			members = append(members, entry.member)
		}
	}
	return members
}
