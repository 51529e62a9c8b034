package xdcc

type State int32

const (
	StateConnecting State = iota
	StateLoggingIn
	StateAwaitingWelcomeEnd
	StateJoining
	StateRequesting
	StateAwaitingDccEvents
	StateClosing
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateConnecting:         "connecting",
	StateLoggingIn:          "logging-in",
	StateAwaitingWelcomeEnd: "awaiting-welcome-end",
	StateJoining:            "joining",
	StateRequesting:         "requesting",
	StateAwaitingDccEvents:  "awaiting-dcc-events",
	StateClosing:            "closing",
	StateDone:               "done",
	StateFailed:             "failed",
	StateCancelled:          "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}
