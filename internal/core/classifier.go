package core

import "strings"

// ChannelKind is the access class of a channel name.
type ChannelKind int

const (
	// ChannelPublic requires no authentication.
	ChannelPublic ChannelKind = iota
	// ChannelPrivate requires authentication against the application server.
	ChannelPrivate
	// ChannelPresence is private plus a per-user membership roster.
	ChannelPresence
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	default:
		return "public"
	}
}

// Classifier derives the kind of a channel from its name and recognizes
// client-originated event names. Patterns are fixed at construction; a
// trailing '*' in a pattern matches any suffix.
type Classifier struct {
	presence     []string
	private      []string
	clientEvents []string
}

// NewClassifier builds a classifier from glob pattern lists.
func NewClassifier(presencePatterns, privatePatterns, clientEventPatterns []string) *Classifier {
	return &Classifier{
		presence:     append([]string(nil), presencePatterns...),
		private:      append([]string(nil), privatePatterns...),
		clientEvents: append([]string(nil), clientEventPatterns...),
	}
}

// Classify returns the kind of the named channel. Presence patterns are
// checked before private ones: a presence channel must never be demoted to
// generic private handling.
func (c *Classifier) Classify(name string) ChannelKind {
	if matchAny(c.presence, name) {
		return ChannelPresence
	}
	if matchAny(c.private, name) {
		return ChannelPrivate
	}
	return ChannelPublic
}

// IsClientEvent reports whether the event name is client-originated.
func (c *Classifier) IsClientEvent(event string) bool {
	return matchAny(c.clientEvents, event)
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchGlob(p, s) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, s string) bool {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return strings.HasPrefix(s, pattern[:i])
	}
	return pattern == s
}
