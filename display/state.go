package display

// State is the lifecycle position of a Display.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateReconfiguring
	StateShuttingDown
	StateStopped
	// StateErrorStopped is terminal: the loop died or did not shut down in
	// time.
	StateErrorStopped
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateInitializing:  "initializing",
	StateRunning:       "running",
	StateReconfiguring: "reconfiguring",
	StateShuttingDown:  "shutting-down",
	StateStopped:       "stopped",
	StateErrorStopped:  "error-stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Live reports whether the compositor is up and accepting operations.
func (s State) Live() bool {
	return s == StateRunning || s == StateReconfiguring
}

// Terminal reports whether the display can no longer be used.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrorStopped
}
