package hyprland

import (
	"fmt"
	"strings"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
)

// event is one socket2 line, "name>>data"
type event struct {
	name string
	data string
}

func parseEvent(line string) (event, bool) {
	name, data, ok := strings.Cut(line, ">>")
	if !ok || name == "" {
		return event{}, false
	}
	return event{name: name, data: data}, true
}

// normalize strips the 0x prefix; events omit it and requests include it
func normalize(addr string) string {
	return strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

func handleFor(addr string) toplevel.Handle {
	return toplevel.Handle("hypr-" + normalize(addr))
}

func addressOf(h toplevel.Handle) (string, error) {
	addr, ok := strings.CutPrefix(string(h), "hypr-")
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %s", toplevel.ErrStaleHandle, h)
	}
	return "0x" + addr, nil
}

// openWindow parses "ADDRESS,WORKSPACE,CLASS,TITLE"; the title may contain commas
func openWindow(data string) (toplevel.Record, bool) {
	parts := strings.SplitN(data, ",", 4)
	if len(parts) != 4 || parts[0] == "" {
		return toplevel.Record{}, false
	}
	return toplevel.Record{
		Handle:    handleFor(parts[0]),
		AppID:     parts[2],
		Title:     parts[3],
		Minimized: parts[1] == hiddenWorkspace,
	}, true
}

// records converts clients into records in the order given
func records(clients []client, active string) []toplevel.Record {
	active = normalize(active)
	out := make([]toplevel.Record, 0, len(clients))
	for _, c := range clients {
		if !c.Mapped {
			continue
		}
		hidden := c.Workspace.Name == hiddenWorkspace || c.Hidden
		out = append(out, toplevel.Record{
			Handle:    handleFor(c.Address),
			AppID:     c.Class,
			Title:     c.Title,
			Minimized: hidden,
			Activated: !hidden && normalize(c.Address) == active,
		})
	}
	return out
}
