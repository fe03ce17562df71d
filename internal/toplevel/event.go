// Package toplevel tracks the compositor's top-level windows from an
// asynchronous stream of protocol events.
package toplevel

import (
	"fmt"
)

// Handle is an opaque compositor reference to a window. It may go stale at
// any time; check Registry.Live before using a stored handle.
type Handle string

// Record is the registry's view of one toplevel
type Record struct {
	Handle    Handle `json:"handle"`
	AppID     string `json:"appId"`
	Title     string `json:"title"`
	Minimized bool   `json:"minimized"`
	Activated bool   `json:"activated"`
}

// EventKind identifies an inbound protocol event
type EventKind int

const (
	// Discovered: a new toplevel appeared (Record set)
	Discovered EventKind = iota
	// StateChanged: minimized/activated flags changed (Handle, Minimized, Activated)
	StateChanged
	// TitleChanged: title changed (Handle, Title)
	TitleChanged
	// Closed: the toplevel is gone (Handle)
	Closed
	// Refreshed: full state for one handle; supersedes the record wholesale (Record set)
	Refreshed
	// Synced: full snapshot of every toplevel; anything missing is dropped (Records set)
	Synced
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case StateChanged:
		return "state-changed"
	case TitleChanged:
		return "title-changed"
	case Closed:
		return "closed"
	case Refreshed:
		return "refreshed"
	case Synced:
		return "synced"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one message from a backend
type Event struct {
	Kind      EventKind
	Handle    Handle
	AppID     string
	Title     string
	Minimized bool
	Activated bool
	Records   []Record
}

// Record returns the event's fields as a record
func (e Event) Record() Record {
	return Record{
		Handle:    e.Handle,
		AppID:     e.AppID,
		Title:     e.Title,
		Minimized: e.Minimized,
		Activated: e.Activated,
	}
}

// DiscoveredEvent builds a Discovered event from a record
func DiscoveredEvent(r Record) Event {
	return Event{Kind: Discovered, Handle: r.Handle, AppID: r.AppID, Title: r.Title, Minimized: r.Minimized, Activated: r.Activated}
}

// RefreshedEvent builds a Refreshed event from a record
func RefreshedEvent(r Record) Event {
	ev := DiscoveredEvent(r)
	ev.Kind = Refreshed
	return ev
}

// SyncedEvent builds a Synced event
func SyncedEvent(records []Record) Event {
	return Event{Kind: Synced, Records: records}
}

// ProtocolError reports a malformed or unexpected event. The event is dropped.
type ProtocolError struct {
	Kind   EventKind
	Handle Handle
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("protocol error: %s event: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("protocol error: %s event for %s: %s", e.Kind, e.Handle, e.Reason)
}
