package domain

// basic error that can occur across the client core
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrDisposed          Error = "component is disposed"
	ErrEmptyPlayerID     Error = "player id is empty"
	ErrEmptyRequestID    Error = "request id is empty"
	ErrEmptyGameMode     Error = "game mode is empty"
	ErrInvalidDuration   Error = "duration must be positive"
	ErrInvalidTransition Error = "invalid state transition"
	ErrNotConnected      Error = "not connected"
	ErrNilConfig         Error = "configuration is nil"
)

// ConnectionState represents the current state of the network connection.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MatchingState represents the logical matchmaking phase on the client.
type MatchingState int

const (
	MatchingIdle MatchingState = iota
	MatchingSearching
	MatchingFound
	MatchingStarting
	MatchingCancelled
	MatchingFailed
	MatchingError
)

func (s MatchingState) String() string {
	switch s {
	case MatchingIdle:
		return "idle"
	case MatchingSearching:
		return "searching"
	case MatchingFound:
		return "found"
	case MatchingStarting:
		return "starting"
	case MatchingCancelled:
		return "cancelled"
	case MatchingFailed:
		return "failed"
	case MatchingError:
		return "error"
	default:
		return "unknown"
	}
}

// MessagePriority orders outbound messages. Lower value drains first.
type MessagePriority int

const (
	PriorityHigh   MessagePriority = 0 // cancel, protocol errors
	PriorityNormal MessagePriority = 1 // queue/room requests
	PriorityLow    MessagePriority = 2 // heartbeat, pong
)

func (p MessagePriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Player count bounds enforced at both encode and decode.
const (
	MinPlayers = 2
	MaxPlayers = 4
)

// IsValidPlayerCount reports whether n is an allowed match size.
func IsValidPlayerCount(n int) bool {
	return n >= MinPlayers && n <= MaxPlayers
}

// ClampPlayerCount forces n into the allowed range.
func ClampPlayerCount(n int) int {
	if n < MinPlayers {
		return MinPlayers
	}
	if n > MaxPlayers {
		return MaxPlayers
	}
	return n
}
