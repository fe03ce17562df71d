package controller

// State is the visibility of the managed terminal
type State int

const (
	// NotStarted: no terminal process
	NotStarted State = iota
	// AwaitingWindow: spawned, its window has not been seen yet
	AwaitingWindow
	// Hidden: window known and minimized
	Hidden
	// Visible: window known and activated
	Visible
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case AwaitingWindow:
		return "AwaitingWindow"
	case Hidden:
		return "Hidden"
	case Visible:
		return "Visible"
	}
	return "Unknown"
}

// HasProcess reports whether a terminal process is tracked in this state
func (s State) HasProcess() bool {
	return s != NotStarted
}
