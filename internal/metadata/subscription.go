package metadata

import "strings"

// Lifecycle events emitted by the engine.
const (
	EventItemCreated = "item.created"
	EventItemUpdated = "item.updated"
	EventItemDeleted = "item.deleted"
	EventUserCreated = "user.created"
)

// Subscription defines an HTTP callout fired after a matching event.
type Subscription struct {
	ID            int64  `json:"id"`
	TargetURL     string `json:"target_url"`
	EventName     string `json:"event_name"`
	StructureSlug string `json:"structure_slug"`
	Condition     string `json:"condition"` // expression; empty = always fire
	Status        string `json:"status"`    // active or paused
}

// Active reports whether the subscription should receive deliveries.
func (s *Subscription) Active() bool {
	return s.Status == "active"
}

// Matches reports whether the subscription covers the given event for
// the given structure. EventName may be a bare event ("item.created"),
// optionally scoped to one structure via StructureSlug, or the combined
// "event:slug" form.
func (s *Subscription) Matches(event, slug string) bool {
	if !s.Active() {
		return false
	}
	if name, scope, ok := strings.Cut(s.EventName, ":"); ok {
		return name == event && scope == slug
	}
	if s.EventName != event {
		return false
	}
	return s.StructureSlug == "" || s.StructureSlug == slug
}
