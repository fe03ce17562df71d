package toplevel

import (
	"errors"
	"fmt"
)

// ErrStaleHandle is returned when a request targets a handle the compositor
// no longer reports
var ErrStaleHandle = errors.New("toplevel handle is not live")

// Requester sends window requests to the compositor. Requests are
// fire-and-forget: the compositor answers with state events later.
type Requester interface {
	Activate(h Handle) error
	Minimize(h Handle) error
}

// Registry is the live set of toplevels. It is not safe for concurrent use;
// the daemon touches it only from its event loop.
type Registry struct {
	records   map[Handle]*Record
	order     []Handle // discovery order, for deterministic scans
	requester Requester
}

// NewRegistry creates an empty registry that sends requests through r
func NewRegistry(r Requester) *Registry {
	return &Registry{
		records:   make(map[Handle]*Record),
		requester: r,
	}
}

// Apply folds one protocol event into the registry
func (r *Registry) Apply(ev Event) error {
	if ev.Kind != Synced && ev.Handle == "" {
		return &ProtocolError{Kind: ev.Kind, Reason: "missing handle"}
	}

	switch ev.Kind {
	case Discovered, Refreshed:
		// A repeated discovery is treated as a refresh
		r.put(ev.Record())

	case StateChanged:
		rec, ok := r.records[ev.Handle]
		if !ok {
			return &ProtocolError{Kind: ev.Kind, Handle: ev.Handle, Reason: "unknown handle"}
		}
		rec.Minimized = ev.Minimized
		rec.Activated = ev.Activated

	case TitleChanged:
		rec, ok := r.records[ev.Handle]
		if !ok {
			return &ProtocolError{Kind: ev.Kind, Handle: ev.Handle, Reason: "unknown handle"}
		}
		rec.Title = ev.Title

	case Closed:
		if _, ok := r.records[ev.Handle]; !ok {
			return &ProtocolError{Kind: ev.Kind, Handle: ev.Handle, Reason: "unknown handle"}
		}
		r.remove(ev.Handle)

	case Synced:
		r.sync(ev.Records)

	default:
		return &ProtocolError{Kind: ev.Kind, Handle: ev.Handle, Reason: "unknown event kind"}
	}

	return nil
}

// sync replaces the live set with a full snapshot
func (r *Registry) sync(records []Record) {
	seen := make(map[Handle]bool, len(records))
	for _, rec := range records {
		if rec.Handle == "" {
			continue
		}
		seen[rec.Handle] = true
	}

	// Drop what the compositor no longer reports
	for _, h := range append([]Handle(nil), r.order...) {
		if !seen[h] {
			r.remove(h)
		}
	}

	for _, rec := range records {
		if rec.Handle == "" {
			continue
		}
		r.put(rec)
	}
}

func (r *Registry) put(rec Record) {
	if existing, ok := r.records[rec.Handle]; ok {
		*existing = rec
		return
	}
	cp := rec
	r.records[rec.Handle] = &cp
	r.order = append(r.order, rec.Handle)
}

func (r *Registry) remove(h Handle) {
	delete(r.records, h)
	for i, oh := range r.order {
		if oh == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// FindByMarker returns the first live toplevel whose app-id equals marker.
// Matching is exact and case-sensitive.
func (r *Registry) FindByMarker(marker string) (Handle, bool) {
	if marker == "" {
		return "", false
	}
	for _, h := range r.order {
		if r.records[h].AppID == marker {
			return h, true
		}
	}
	return "", false
}

// Live reports whether the compositor still reports h
func (r *Registry) Live(h Handle) bool {
	_, ok := r.records[h]
	return ok
}

// Lookup returns a copy of the record for h
func (r *Registry) Lookup(h Handle) (Record, bool) {
	rec, ok := r.records[h]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns copies of all live records in discovery order
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, *r.records[h])
	}
	return out
}

// Len returns the number of live toplevels
func (r *Registry) Len() int {
	return len(r.order)
}

// Clear drops every record, e.g. when the backend connection is lost
func (r *Registry) Clear() {
	r.records = make(map[Handle]*Record)
	r.order = nil
}

// RequestActivate asks the compositor to unminimize, raise and focus h
func (r *Registry) RequestActivate(h Handle) error {
	if !r.Live(h) {
		return fmt.Errorf("activate %s: %w", h, ErrStaleHandle)
	}
	if err := r.requester.Activate(h); err != nil {
		return fmt.Errorf("activate %s: %w", h, err)
	}
	return nil
}

// RequestMinimize asks the compositor to minimize h
func (r *Registry) RequestMinimize(h Handle) error {
	if !r.Live(h) {
		return fmt.Errorf("minimize %s: %w", h, ErrStaleHandle)
	}
	if err := r.requester.Minimize(h); err != nil {
		return fmt.Errorf("minimize %s: %w", h, err)
	}
	return nil
}
