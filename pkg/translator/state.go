package translator

// State is the position of a session in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateReady
	StateTranslating
	StateForking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTranslating:
		return "translating"
	case StateForking:
		return "forking"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
