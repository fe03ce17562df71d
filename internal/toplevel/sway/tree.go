package sway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
)

// scratchWorkspace holds hidden scratchpad windows
const scratchWorkspace = "__i3_scratch"

type windowProperties struct {
	Class    string `json:"class"`
	Instance string `json:"instance"`
}

// node is the subset of a sway tree node used here
type node struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	AppID            *string           `json:"app_id"`
	PID              int               `json:"pid"`
	Focused          bool              `json:"focused"`
	WindowProperties *windowProperties `json:"window_properties"`
	Nodes            []node            `json:"nodes"`
	FloatingNodes    []node            `json:"floating_nodes"`
}

// isView reports whether the node is an application window
func (n *node) isView() bool {
	return (n.Type == "con" || n.Type == "floating_con") &&
		(n.AppID != nil || n.WindowProperties != nil || n.PID > 0) &&
		len(n.Nodes) == 0
}

// appID is the Wayland app_id, or the X11 class for Xwayland windows
func (n *node) appID() string {
	if n.AppID != nil && *n.AppID != "" {
		return *n.AppID
	}
	if n.WindowProperties != nil {
		return n.WindowProperties.Class
	}
	return ""
}

func handleFor(id int64) toplevel.Handle {
	return toplevel.Handle(fmt.Sprintf("sway-%d", id))
}

func conID(h toplevel.Handle) (int64, error) {
	raw, ok := strings.CutPrefix(string(h), "sway-")
	if !ok {
		return 0, fmt.Errorf("%w: %s", toplevel.ErrStaleHandle, h)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (n *node) record(scratch bool) toplevel.Record {
	return toplevel.Record{
		Handle:    handleFor(n.ID),
		AppID:     n.appID(),
		Title:     n.Name,
		Minimized: scratch,
		Activated: n.Focused && !scratch,
	}
}

// views flattens the tree into records in tree order
func views(root *node) []toplevel.Record {
	var out []toplevel.Record
	var walk func(n *node, scratch bool)
	walk = func(n *node, scratch bool) {
		if n.Type == "workspace" && n.Name == scratchWorkspace {
			scratch = true
		}
		if n.isView() {
			out = append(out, n.record(scratch))
			return
		}
		for i := range n.Nodes {
			walk(&n.Nodes[i], scratch)
		}
		for i := range n.FloatingNodes {
			walk(&n.FloatingNodes[i], scratch)
		}
	}
	walk(root, false)
	return out
}

// find returns the record for con id, if present
func find(root *node, id int64) (toplevel.Record, bool) {
	h := handleFor(id)
	for _, r := range views(root) {
		if r.Handle == h {
			return r, true
		}
	}
	return toplevel.Record{}, false
}
