package flash

// State is a step in a flash operation's state machine (spec.md §4.6.6).
type State uint8

const (
	StateIdle State = iota
	StateValidating
	StateSessionEntry
	StateUnlocking
	StatePreconditions
	StateDownloading
	StateTransferring
	StateExiting
	StateVerifyingChecksum
	StatePostActions
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "Idle",
	StateValidating:        "Validating",
	StateSessionEntry:      "SessionEntry",
	StateUnlocking:         "Unlocking",
	StatePreconditions:     "Preconditions",
	StateDownloading:       "Downloading",
	StateTransferring:      "Transferring",
	StateExiting:           "Exiting",
	StateVerifyingChecksum: "VerifyingChecksum",
	StatePostActions:       "PostActions",
	StateDone:              "Done",
	StateFailed:            "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}
