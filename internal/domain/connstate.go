package domain

// ConnState is the lifecycle state of the venue stream connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthorizing
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAuthorizing:
		return "AUTHORIZING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

func (s ConnState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
