package stream

// State is the lifecycle position of a single streaming channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthorized
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}
