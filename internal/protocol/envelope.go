package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
)

// Codec errors. Callers branch on these rather than on message text.
const (
	ErrNilMessage      domain.Error = "message is nil"
	ErrInvalidMessage  domain.Error = "message failed validation"
	ErrMessageTooLarge domain.Error = "message exceeds size limit"
	ErrMalformedJSON   domain.Error = "malformed json"
	ErrUnknownType     domain.Error = "unknown message type"
	ErrWrongDirection  domain.Error = "message type not valid for this direction"
)

// Envelope is the outer wire object carried on every message.
type Envelope struct {
	MessageID string                 `json:"messageId,omitempty"`
	Type      string                 `json:"type"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	Priority  domain.MessagePriority `json:"priority"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEnvelope wraps payload in a stamped envelope of the given type.
func NewEnvelope(msgType string, payload any, priority domain.MessagePriority) (*Envelope, error) {
	if !IsValidMessageType(msgType) {
		return nil, ErrUnknownType
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		MessageID: uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Priority:  priority,
		Version:   CurrentVersion,
		Timestamp: time.Now().UTC(),
	}, nil
}

// IsExpired reports whether the envelope is older than the protocol TTL.
// Used to reject stale messages at decode time, independent of the
// per-request timeout tracker.
func (e *Envelope) IsExpired(now time.Time) bool {
	if e.Timestamp.IsZero() {
		return false
	}
	return now.Sub(e.Timestamp) > EnvelopeTTL
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return ErrNilMessage
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ErrMalformedJSON
	}
	return nil
}

// SerializeMessage encodes an envelope to canonical JSON text.
func SerializeMessage(e *Envelope) (string, error) {
	if e == nil {
		return "", ErrNilMessage
	}
	if !IsValidMessageType(e.Type) {
		return "", ErrUnknownType
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	if !IsWithinSizeLimit(string(data)) {
		return "", ErrMessageTooLarge
	}
	return string(data), nil
}

// DeserializeMessage decodes JSON text into an envelope, rejecting oversize
// input and unknown message types.
func DeserializeMessage(text string) (*Envelope, error) {
	if !IsWithinSizeLimit(text) {
		return nil, ErrMessageTooLarge
	}
	var e Envelope
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return nil, ErrMalformedJSON
	}
	if !IsValidMessageType(e.Type) {
		return nil, ErrUnknownType
	}
	return &e, nil
}

// SerializeRequest encodes a matching request as a join_queue envelope.
func SerializeRequest(r *domain.MatchingRequest) (string, error) {
	if r == nil {
		return "", ErrNilMessage
	}
	if !r.IsValid() {
		return "", ErrInvalidMessage
	}
	env, err := NewEnvelope(TypeJoinQueue, r, domain.PriorityNormal)
	if err != nil {
		return "", err
	}
	return SerializeMessage(env)
}

// DeserializeRequest decodes text as a client-direction envelope carrying a
// matching request. A server-only type must not deserialize as a request.
func DeserializeRequest(text string) (*domain.MatchingRequest, error) {
	env, err := DeserializeMessage(text)
	if err != nil {
		return nil, err
	}
	if !IsClientMessageType(env.Type) {
		return nil, ErrWrongDirection
	}
	var req domain.MatchingRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, err
	}
	if !req.IsValid() {
		return nil, ErrInvalidMessage
	}
	return &req, nil
}

// SerializeResponse encodes a matching response as a match_found envelope.
func SerializeResponse(r *domain.MatchingResponse) (string, error) {
	if r == nil {
		return "", ErrNilMessage
	}
	if !r.IsValid() {
		return "", ErrInvalidMessage
	}
	env, err := NewEnvelope(TypeMatchFound, r, domain.PriorityNormal)
	if err != nil {
		return "", err
	}
	return SerializeMessage(env)
}

// DeserializeResponse decodes text as a server-direction envelope carrying a
// matching response. A client-only type must not deserialize as a response.
func DeserializeResponse(text string) (*domain.MatchingResponse, error) {
	env, err := DeserializeMessage(text)
	if err != nil {
		return nil, err
	}
	if !IsServerMessageType(env.Type) {
		return nil, ErrWrongDirection
	}
	var resp domain.MatchingResponse
	if err := env.DecodePayload(&resp); err != nil {
		return nil, err
	}
	if !resp.IsValid() {
		return nil, ErrInvalidMessage
	}
	return &resp, nil
}

// Factory helpers for the canonical client message kinds.

func CreateJoinQueueMessage(r *domain.MatchingRequest) (*Envelope, error) {
	if r == nil || !r.IsValid() {
		return nil, ErrInvalidMessage
	}
	return NewEnvelope(TypeJoinQueue, r, domain.PriorityNormal)
}

func CreateLeaveQueueMessage(playerID string) (*Envelope, error) {
	if playerID == "" {
		return nil, domain.ErrEmptyPlayerID
	}
	return NewEnvelope(TypeLeaveQueue, map[string]string{"playerId": playerID}, domain.PriorityNormal)
}

func CreateRoomCreateMessage(r *domain.MatchingRequest) (*Envelope, error) {
	if r == nil || !r.IsValid() {
		return nil, ErrInvalidMessage
	}
	return NewEnvelope(TypeRoomCreate, r, domain.PriorityNormal)
}

func CreateRoomJoinMessage(playerID, roomCode string) (*Envelope, error) {
	if playerID == "" {
		return nil, domain.ErrEmptyPlayerID
	}
	if roomCode == "" {
		return nil, ErrInvalidMessage
	}
	payload := map[string]string{"playerId": playerID, "roomCode": roomCode}
	return NewEnvelope(TypeRoomJoin, payload, domain.PriorityNormal)
}

func CreateRoomLeaveMessage(playerID, roomCode string) (*Envelope, error) {
	if playerID == "" {
		return nil, domain.ErrEmptyPlayerID
	}
	payload := map[string]string{"playerId": playerID, "roomCode": roomCode}
	return NewEnvelope(TypeRoomLeave, payload, domain.PriorityNormal)
}

// CreateCancelMessage builds the matching_cancel envelope. Cancels ride the
// high-priority tier so they overtake queued requests.
func CreateCancelMessage(playerID string) (*Envelope, error) {
	if playerID == "" {
		return nil, domain.ErrEmptyPlayerID
	}
	return NewEnvelope(TypeMatchingCancel, map[string]string{"playerId": playerID}, domain.PriorityHigh)
}

func CreateHeartbeatMessage() (*Envelope, error) {
	return NewEnvelope(TypeHeartbeat, nil, domain.PriorityLow)
}

func CreatePongMessage() (*Envelope, error) {
	return NewEnvelope(TypePong, nil, domain.PriorityLow)
}
