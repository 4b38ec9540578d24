package coordinator

// State is the coordinator's single source of truth for whose turn it is.
type State int

const (
	Idle State = iota
	AgentSpeaking
	ListeningForHuman
	Paused
	Concluded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AgentSpeaking:
		return "agent_speaking"
	case ListeningForHuman:
		return "listening"
	case Paused:
		return "paused"
	case Concluded:
		return "concluded"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	Idle:              {AgentSpeaking},
	AgentSpeaking:     {ListeningForHuman},
	ListeningForHuman: {AgentSpeaking, Paused},
	Paused:            {ListeningForHuman},
}

// CanTransition reports whether s may move to next. Any live state may
// conclude; Concluded is terminal and moving to the current state is never
// a transition.
func (s State) CanTransition(next State) bool {
	if s == Concluded || s == next {
		return false
	}
	if next == Concluded {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
