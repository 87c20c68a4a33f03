package protocol

import "time"

// EventKind names one step of a conversation.
type EventKind string

const (
	KindCommand       EventKind = "command"
	KindSiteOpened    EventKind = "site_opened"
	KindResponse      EventKind = "response"
	KindFallback      EventKind = "fallback"
	KindSegmentSpoken EventKind = "segment_spoken"
	KindSegmentFailed EventKind = "segment_failed"
)

// Event is the journal record published on the bus and stored in the timeline.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const SubjectPrefix = "cyruss"

// Subject returns the bus subject an event of kind k is published on.
func Subject(k EventKind) string {
	return SubjectPrefix + "." + string(k)
}
