package transport

import "fmt"

// State is the playback transport state.
type State int

const (
	// NoFile means the queue is empty and nothing is loaded.
	NoFile State = iota
	Stopped
	Playing
	Paused
	// Done is transient: the active track finished or was skipped and the
	// next one is being loaded.
	Done
)

func (s State) String() string {
	switch s {
	case NoFile:
		return "NoFile"
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loaded reports whether a track is loaded in this state.
func (s State) Loaded() bool {
	return s == Stopped || s == Playing || s == Paused
}
