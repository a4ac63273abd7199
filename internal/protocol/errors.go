package protocol

import (
	"fmt"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
)

// Machine-readable protocol error codes carried in protocol_error payloads.
const (
	ErrCodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	ErrCodeVersionMismatch    = "VERSION_MISMATCH"
	ErrCodeMessageTooLarge    = "MESSAGE_TOO_LARGE"
	ErrCodeMalformedMessage   = "MALFORMED_MESSAGE"
)

// ProtocolErrorPayload is the payload of a protocol_error envelope. The
// original message id lets the peer correlate the error with its cause.
type ProtocolErrorPayload struct {
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
}

// CreateProtocolErrorMessage builds a well-formed protocol_error envelope.
func CreateProtocolErrorMessage(code, message, originalMessageID string) *Envelope {
	payload := ProtocolErrorPayload{
		ErrorCode:         code,
		ErrorMessage:      message,
		OriginalMessageID: originalMessageID,
	}
	env, err := NewEnvelope(TypeProtocolError, payload, domain.PriorityHigh)
	if err != nil {
		// Payload is a plain struct; marshalling cannot fail.
		panic(err)
	}
	return env
}

// CreateInvalidMessageTypeError reports an unknown or misdirected type.
func CreateInvalidMessageTypeError(msgType, originalMessageID string) *Envelope {
	msg := fmt.Sprintf("message type %q is not recognized", msgType)
	return CreateProtocolErrorMessage(ErrCodeInvalidMessageType, msg, originalMessageID)
}

// CreateVersionMismatchError reports an unsupported peer version.
func CreateVersionMismatchError(version, originalMessageID string) *Envelope {
	msg := fmt.Sprintf("protocol version %q is not supported (supported: %v)", version, SupportedVersions)
	return CreateProtocolErrorMessage(ErrCodeVersionMismatch, msg, originalMessageID)
}

// CreateMessageTooLargeError reports an oversize message.
func CreateMessageTooLargeError(size int, originalMessageID string) *Envelope {
	msg := fmt.Sprintf("message of %d bytes exceeds the %d byte limit", size, MaxMessageSize)
	return CreateProtocolErrorMessage(ErrCodeMessageTooLarge, msg, originalMessageID)
}
