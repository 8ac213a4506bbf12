package domain

// State is the record/replay mode.
type State int

const (
	Clean     State = iota // no tag; ready to record when keys are present
	Recording              // a read pass is armed
	Loaded                 // a recorded tag is present
	Replaying              // a write pass is armed
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Recording:
		return "recording"
	case Loaded:
		return "loaded"
	case Replaying:
		return "replaying"
	default:
		return "unknown"
	}
}

type transition struct {
	activate   State
	deactivate State
	// needsKeys guards activate only.
	needsKeys bool
}

var transitions = map[State]transition{
	Clean:     {activate: Recording, deactivate: Clean, needsKeys: true},
	Recording: {activate: Clean, deactivate: Clean},
	Loaded:    {activate: Replaying, deactivate: Loaded, needsKeys: true},
	Replaying: {activate: Loaded, deactivate: Loaded},
}
