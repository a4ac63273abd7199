// Package protocol defines the matching server wire contract: message type
// sets, size limits, version compatibility and the JSON envelope codec.
package protocol

import (
	"strings"
	"time"
)

// Wire protocol constants.
const (
	// CurrentVersion is stamped on every outbound envelope.
	CurrentVersion = "1.1.0"

	// MaxMessageSize limits the UTF-8 byte length of a serialized message.
	MaxMessageSize = 1 << 20 // 1 MiB

	// EnvelopeTTL is the age past which a decoded envelope is considered stale.
	EnvelopeTTL = 5 * time.Minute
)

// SupportedVersions lists peer versions this client accepts.
var SupportedVersions = []string{"1.0.0", "1.1.0"}

// Client → server message types.
const (
	TypeJoinQueue      = "join_queue"
	TypeLeaveQueue     = "leave_queue"
	TypeRoomCreate     = "room_create"
	TypeRoomJoin       = "room_join"
	TypeRoomLeave      = "room_leave"
	TypeMatchingCancel = "matching_cancel"
)

// Server → client message types.
const (
	TypeMatchFound     = "match_found"
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypeMatchCancelled = "match_cancelled"
	TypeQueueStatus    = "queue_status"
	TypeMatchError     = "match_error"
)

// Bidirectional control types.
const (
	TypeHeartbeat     = "heartbeat"
	TypePong          = "pong"
	TypeProtocolError = "protocol_error"
)

// The two direction sets deliberately overlap only on the bidirectional
// control types.
var clientMessageTypes = map[string]struct{}{
	TypeJoinQueue:      {},
	TypeLeaveQueue:     {},
	TypeRoomCreate:     {},
	TypeRoomJoin:       {},
	TypeRoomLeave:      {},
	TypeMatchingCancel: {},
	TypeHeartbeat:      {},
	TypePong:           {},
	TypeProtocolError:  {},
}

var serverMessageTypes = map[string]struct{}{
	TypeMatchFound:     {},
	TypeRoomCreated:    {},
	TypeRoomJoined:     {},
	TypeMatchCancelled: {},
	TypeQueueStatus:    {},
	TypeMatchError:     {},
	TypeHeartbeat:      {},
	TypePong:           {},
	TypeProtocolError:  {},
}

// IsClientMessageType reports whether t may travel client → server.
// Matching is case-insensitive.
func IsClientMessageType(t string) bool {
	_, ok := clientMessageTypes[strings.ToLower(t)]
	return ok
}

// IsServerMessageType reports whether t may travel server → client.
func IsServerMessageType(t string) bool {
	_, ok := serverMessageTypes[strings.ToLower(t)]
	return ok
}

// IsValidMessageType reports whether t is known in either direction.
func IsValidMessageType(t string) bool {
	return IsClientMessageType(t) || IsServerMessageType(t)
}

// IsWithinSizeLimit reports whether the UTF-8 byte length of text is within
// the wire limit. Empty text is always within the limit.
func IsWithinSizeLimit(text string) bool {
	return len(text) <= MaxMessageSize
}

// IsCompatibleVersion reports whether v is in the supported version list.
func IsCompatibleVersion(v string) bool {
	for _, s := range SupportedVersions {
		if v == s {
			return true
		}
	}
	return false
}
