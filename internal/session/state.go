package session

type State int

const (
	Idle State = iota
	AwaitingPeers
	Paired
	ControlRequested
	ControlGranted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPeers:
		return "awaiting-peers"
	case Paired:
		return "paired"
	case ControlRequested:
		return "control-requested"
	case ControlGranted:
		return "control-granted"
	}
	return "unknown"
}

// controlling reports whether s carries a control exchange on top of pairing.
func (s State) controlling() bool { return s == ControlRequested || s == ControlGranted }
