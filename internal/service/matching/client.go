package matching

import (
	"time"

	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/protocol"
	"github.com/JokerTrickster/unity-dice-sub000/internal/timeout"
)

// Transport is the outbound surface the matching client needs. Implemented
// by the websocket facade.
type Transport interface {
	SendMessage(text string, priority domain.MessagePriority) bool
}

// QueueStatus is the server's periodic queue progress report.
type QueueStatus struct {
	Position       int `json:"position"`
	PlayersInQueue int `json:"playersInQueue"`
	EstimatedWait  int `json:"estimatedWaitSeconds"`
}

// matchError is the payload of a match_error message.
type matchError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// cancelPayload is the payload of a match_cancelled message.
type cancelPayload struct {
	PlayerID string `json:"playerId"`
}

// Callbacks are the outward notifications of the matching client. Nil fields
// are skipped; handlers must not block.
type Callbacks struct {
	OnMatchingResponse  func(resp *domain.MatchingResponse)
	OnMatchingCancelled func(playerID string)
	OnQueueStatus       func(status QueueStatus)
	OnNetworkError      func(code, message string)
	// OnProtocolError offers a ready-to-send protocol_error reply for a
	// rejected inbound message. The core never sends it on its own.
	OnProtocolError    func(reply *protocol.Envelope)
	OnRequestTimeout   func(requestID, playerID string)
	OnRequestWarning   func(requestID, playerID string, remaining time.Duration)
	OnRequestCancelled func(requestID, playerID string)
}

// Config tunes per-request timeout behavior.
type Config struct {
	RequestTimeout time.Duration
	WarningWindow  time.Duration
	SnapshotTTL    time.Duration
}

// Client ties the transport facade, the state machine and the protocol codec
// into the collaborator-facing intent surface.
type Client struct {
	cfg       Config
	transport Transport
	states    *StateManager
	callbacks Callbacks
	tracker   *timeout.Tracker
	log       *zap.Logger
}

// NewClient wires the matching flow. The state manager is owned by the
// caller; the request timeout tracker is owned here.
func NewClient(cfg Config, transport Transport, states *StateManager, cb Callbacks, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 10 * time.Minute
	}
	c := &Client{
		cfg:       cfg,
		transport: transport,
		states:    states,
		callbacks: cb,
		log:       log.With(zap.String("comp", "matching_client")),
	}
	c.tracker = timeout.NewTracker(cfg.WarningWindow, timeout.Callbacks{
		OnTimeout:   cb.OnRequestTimeout,
		OnWarning:   cb.OnRequestWarning,
		OnCancelled: cb.OnRequestCancelled,
	}, log)
	return c
}

// States exposes the underlying state machine for UI observers.
func (c *Client) States() *StateManager { return c.states }

// RequestTracker exposes the per-request timeout tracker.
func (c *Client) RequestTracker() *timeout.Tracker { return c.tracker }

// SubmitJoinQueue validates the intent, enters Searching and sends the
// join_queue request.
func (c *Client) SubmitJoinQueue(playerID string, playerCount int, gameMode string, betAmount int64) bool {
	req := &domain.MatchingRequest{
		PlayerID:    playerID,
		PlayerCount: playerCount,
		GameMode:    gameMode,
		BetAmount:   betAmount,
	}
	env, err := protocol.CreateJoinQueueMessage(req)
	if err != nil {
		c.log.Warn("rejecting join queue intent", zap.Error(err))
		return false
	}
	if !c.states.ChangeState(domain.MatchingSearching, "join_queue") {
		return false
	}

	info := c.states.StateInfo()
	info.SetGameMode(gameMode)
	info.SetPlayerCount(playerCount)
	c.states.SetPlayerID(playerID)

	return c.dispatch(env, playerID)
}

// SubmitRoomCreate enters Searching and asks the server for a private room.
func (c *Client) SubmitRoomCreate(playerID string, playerCount int, gameMode string, betAmount int64) bool {
	req := &domain.MatchingRequest{
		PlayerID:    playerID,
		PlayerCount: playerCount,
		GameMode:    gameMode,
		BetAmount:   betAmount,
		MatchType:   "room",
	}
	env, err := protocol.CreateRoomCreateMessage(req)
	if err != nil {
		c.log.Warn("rejecting room create intent", zap.Error(err))
		return false
	}
	if !c.states.ChangeState(domain.MatchingSearching, "room_create") {
		return false
	}

	info := c.states.StateInfo()
	info.SetGameMode(gameMode)
	info.SetPlayerCount(playerCount)
	info.SetMatchType("room")
	c.states.SetPlayerID(playerID)

	return c.dispatch(env, playerID)
}

// SubmitRoomJoin enters Searching and joins an existing room by code.
func (c *Client) SubmitRoomJoin(playerID, roomCode string) bool {
	env, err := protocol.CreateRoomJoinMessage(playerID, roomCode)
	if err != nil {
		c.log.Warn("rejecting room join intent", zap.Error(err))
		return false
	}
	if !c.states.ChangeState(domain.MatchingSearching, "room_join") {
		return false
	}

	info := c.states.StateInfo()
	info.SetRoomCode(roomCode)
	info.SetMatchType("room")
	c.states.SetPlayerID(playerID)

	return c.dispatch(env, playerID)
}

// SubmitCancel cancels the in-flight search or found match. The cancel rides
// the high-priority tier and all request timeouts for the player are dropped.
func (c *Client) SubmitCancel(playerID string) bool {
	env, err := protocol.CreateCancelMessage(playerID)
	if err != nil {
		c.log.Warn("rejecting cancel intent", zap.Error(err))
		return false
	}
	if !c.states.ChangeState(domain.MatchingCancelled, "user_cancel") {
		return false
	}

	c.tracker.CancelPlayerTimeouts(playerID)
	text, err := protocol.SerializeMessage(env)
	if err != nil {
		c.log.Error("cancel serialization failed", zap.Error(err))
		return false
	}
	return c.transport.SendMessage(text, env.Priority)
}

// ConfirmMatchStart moves Found → Starting once the host begins the game.
func (c *Client) ConfirmMatchStart() bool {
	return c.states.ChangeState(domain.MatchingStarting, "start_confirmed")
}

// CompleteMatch returns the machine to Idle after the game hand-off.
func (c *Client) CompleteMatch() bool {
	return c.states.ChangeState(domain.MatchingIdle, "match_complete")
}

// dispatch serializes, enqueues and arms the per-request timeout.
func (c *Client) dispatch(env *protocol.Envelope, playerID string) bool {
	text, err := protocol.SerializeMessage(env)
	if err != nil {
		c.log.Error("request serialization failed", zap.Error(err))
		c.states.ChangeState(domain.MatchingFailed, "serialize_error")
		return false
	}
	if !c.transport.SendMessage(text, env.Priority) {
		c.states.ChangeState(domain.MatchingFailed, "transport_rejected")
		return false
	}
	c.tracker.StartRequestTimeout(env.MessageID, playerID, c.cfg.RequestTimeout)
	return true
}

// HandleInbound decodes one raw server message and routes it. Rejected
// messages synthesize a protocol_error reply offered through OnProtocolError.
func (c *Client) HandleInbound(text string) {
	env, err := protocol.DeserializeMessage(text)
	if err != nil {
		c.rejectInbound(text, err)
		return
	}
	if !protocol.IsCompatibleVersion(env.Version) {
		c.log.Warn("incompatible peer version", zap.String("version", env.Version))
		c.offerProtocolError(protocol.CreateVersionMismatchError(env.Version, env.MessageID))
		c.notifyError(protocol.ErrCodeVersionMismatch, "peer protocol version not supported")
		return
	}
	if env.IsExpired(time.Now()) {
		c.log.Warn("dropping stale message",
			zap.String("type", env.Type), zap.Time("timestamp", env.Timestamp))
		return
	}
	if !protocol.IsServerMessageType(env.Type) {
		c.log.Warn("client-only type received from server", zap.String("type", env.Type))
		c.offerProtocolError(protocol.CreateInvalidMessageTypeError(env.Type, env.MessageID))
		return
	}

	switch env.Type {
	case protocol.TypeMatchFound:
		c.handleMatchFound(env)
	case protocol.TypeRoomCreated, protocol.TypeRoomJoined:
		c.handleRoomResponse(env)
	case protocol.TypeMatchCancelled:
		c.handleCancelled(env)
	case protocol.TypeQueueStatus:
		c.handleQueueStatus(env)
	case protocol.TypeMatchError:
		c.handleMatchError(env)
	case protocol.TypeHeartbeat:
		c.replyPong()
	case protocol.TypePong:
		c.log.Debug("pong received")
	case protocol.TypeProtocolError:
		c.handleProtocolError(env)
	}
}

func (c *Client) rejectInbound(text string, err error) {
	switch err {
	case protocol.ErrMessageTooLarge:
		c.offerProtocolError(protocol.CreateMessageTooLargeError(len(text), ""))
		c.notifyError(protocol.ErrCodeMessageTooLarge, "inbound message exceeds size limit")
	case protocol.ErrMalformedJSON:
		c.offerProtocolError(protocol.CreateProtocolErrorMessage(
			protocol.ErrCodeMalformedMessage, "inbound message is not valid JSON", ""))
		c.notifyError(protocol.ErrCodeMalformedMessage, "inbound message is not valid JSON")
	case protocol.ErrUnknownType:
		c.offerProtocolError(protocol.CreateInvalidMessageTypeError("", ""))
		c.notifyError(protocol.ErrCodeInvalidMessageType, "inbound message type unknown")
	default:
		c.log.Warn("inbound message rejected", zap.Error(err))
	}
}

func (c *Client) handleMatchFound(env *protocol.Envelope) {
	var resp domain.MatchingResponse
	if err := env.DecodePayload(&resp); err != nil || !resp.IsValid() {
		c.log.Warn("match_found payload invalid", zap.Error(err))
		return
	}
	info := c.states.StateInfo()
	info.SetMatchedPlayers(resp.Players)
	info.SetRoomCode(resp.RoomID)
	c.cancelRequestTimeouts()

	if resp.Success {
		c.states.ChangeState(domain.MatchingFound, "match_found")
	} else {
		c.states.ChangeState(domain.MatchingFailed, "match_rejected")
	}
	if c.callbacks.OnMatchingResponse != nil {
		c.callbacks.OnMatchingResponse(&resp)
	}
}

func (c *Client) handleRoomResponse(env *protocol.Envelope) {
	var resp domain.MatchingResponse
	if err := env.DecodePayload(&resp); err != nil || !resp.IsValid() {
		c.log.Warn("room response payload invalid", zap.Error(err))
		return
	}
	info := c.states.StateInfo()
	info.SetRoomCode(resp.RoomID)
	info.SetMatchedPlayers(resp.Players)
	c.cancelRequestTimeouts()

	if resp.Success {
		c.states.ChangeState(domain.MatchingFound, env.Type)
	} else {
		c.states.ChangeState(domain.MatchingFailed, env.Type)
	}
	if c.callbacks.OnMatchingResponse != nil {
		c.callbacks.OnMatchingResponse(&resp)
	}
}

func (c *Client) handleCancelled(env *protocol.Envelope) {
	var payload cancelPayload
	_ = env.DecodePayload(&payload)
	c.cancelRequestTimeouts()
	c.states.ChangeState(domain.MatchingCancelled, "server_cancelled")
	if c.callbacks.OnMatchingCancelled != nil {
		c.callbacks.OnMatchingCancelled(payload.PlayerID)
	}
}

func (c *Client) handleQueueStatus(env *protocol.Envelope) {
	var status QueueStatus
	if err := env.DecodePayload(&status); err != nil {
		c.log.Warn("queue_status payload invalid", zap.Error(err))
		return
	}
	// Keep the same-state signal flowing so observers can log search progress.
	c.states.ChangeState(domain.MatchingSearching, "queue_status")
	if c.callbacks.OnQueueStatus != nil {
		c.callbacks.OnQueueStatus(status)
	}
}

func (c *Client) handleMatchError(env *protocol.Envelope) {
	var e matchError
	_ = env.DecodePayload(&e)
	c.cancelRequestTimeouts()
	c.states.ChangeState(domain.MatchingFailed, "match_error")
	c.notifyError(e.ErrorCode, e.ErrorMessage)
}

func (c *Client) handleProtocolError(env *protocol.Envelope) {
	var e protocol.ProtocolErrorPayload
	if err := env.DecodePayload(&e); err != nil {
		c.log.Warn("protocol_error payload invalid", zap.Error(err))
		return
	}
	c.log.Warn("peer reported protocol error",
		zap.String("code", e.ErrorCode), zap.String("original_id", e.OriginalMessageID))
	c.notifyError(e.ErrorCode, e.ErrorMessage)
}

// offerProtocolError hands a synthesized protocol_error reply to the host.
// Sending it is the host's decision.
func (c *Client) offerProtocolError(reply *protocol.Envelope) {
	if c.callbacks.OnProtocolError != nil {
		c.callbacks.OnProtocolError(reply)
	}
}

func (c *Client) replyPong() {
	env, err := protocol.CreatePongMessage()
	if err != nil {
		return
	}
	text, err := protocol.SerializeMessage(env)
	if err != nil {
		return
	}
	c.transport.SendMessage(text, domain.PriorityLow)
}

func (c *Client) cancelRequestTimeouts() {
	c.tracker.CancelAllTimeouts()
}

func (c *Client) notifyError(code, message string) {
	if c.callbacks.OnNetworkError != nil {
		c.callbacks.OnNetworkError(code, message)
	}
}

// Close stops the request timeout tracker. The state manager is closed by
// its owner.
func (c *Client) Close() {
	c.tracker.Close()
}
