package domain

import (
	"sync"
	"time"
)

// MatchedPlayer is one member of a found match as reported by the server.
type MatchedPlayer struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Rating   int    `json:"rating"`
}

// MatchingRequest is the immutable client intent to enter the queue or a room.
type MatchingRequest struct {
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
	GameMode    string `json:"gameMode"`
	BetAmount   int64  `json:"betAmount"`
	MatchType   string `json:"matchType,omitempty"`
	RoomCode    string `json:"roomCode,omitempty"`
}

// IsValid reports whether the request satisfies the wire contract.
func (r *MatchingRequest) IsValid() bool {
	if r == nil {
		return false
	}
	if r.PlayerID == "" || r.GameMode == "" {
		return false
	}
	if !IsValidPlayerCount(r.PlayerCount) {
		return false
	}
	return r.BetAmount >= 0
}

// MatchingResponse is the server's answer to a matching request.
type MatchingResponse struct {
	Success      bool            `json:"success"`
	RoomID       string          `json:"roomId,omitempty"`
	Players      []MatchedPlayer `json:"players,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// IsValid mirrors the request rules plus player-array consistency.
func (r *MatchingResponse) IsValid() bool {
	if r == nil {
		return false
	}
	if r.Success && r.RoomID == "" {
		return false
	}
	for i := range r.Players {
		if r.Players[i].PlayerID == "" {
			return false
		}
	}
	return true
}

// MatchingStateInfo carries the data attached to the current matching state.
// The durable subset (mode, match type, player count) survives restarts;
// room code, matched players and the entry timestamp do not.
type MatchingStateInfo struct {
	mu sync.RWMutex

	gameMode       string
	matchType      string
	playerCount    int
	matchedPlayers []MatchedPlayer
	roomCode       string
	enteredAt      time.Time
}

func NewMatchingStateInfo() *MatchingStateInfo {
	return &MatchingStateInfo{
		playerCount: MinPlayers,
		enteredAt:   time.Now(),
	}
}

func (i *MatchingStateInfo) SetGameMode(mode string) {
	i.mu.Lock()
	i.gameMode = mode
	i.mu.Unlock()
}

func (i *MatchingStateInfo) GameMode() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.gameMode
}

func (i *MatchingStateInfo) SetMatchType(t string) {
	i.mu.Lock()
	i.matchType = t
	i.mu.Unlock()
}

func (i *MatchingStateInfo) MatchType() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.matchType
}

// SetPlayerCount stores n clamped into [MinPlayers, MaxPlayers].
func (i *MatchingStateInfo) SetPlayerCount(n int) {
	i.mu.Lock()
	i.playerCount = ClampPlayerCount(n)
	i.mu.Unlock()
}

func (i *MatchingStateInfo) PlayerCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.playerCount
}

func (i *MatchingStateInfo) SetMatchedPlayers(players []MatchedPlayer) {
	i.mu.Lock()
	i.matchedPlayers = append([]MatchedPlayer(nil), players...)
	i.mu.Unlock()
}

func (i *MatchingStateInfo) MatchedPlayers() []MatchedPlayer {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]MatchedPlayer(nil), i.matchedPlayers...)
}

func (i *MatchingStateInfo) SetRoomCode(code string) {
	i.mu.Lock()
	i.roomCode = code
	i.mu.Unlock()
}

func (i *MatchingStateInfo) RoomCode() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.roomCode
}

// MarkStateEntered resets the entry timestamp, restarting the search clock.
func (i *MatchingStateInfo) MarkStateEntered(now time.Time) {
	i.mu.Lock()
	i.enteredAt = now
	i.mu.Unlock()
}

// CurrentSearchTime is the elapsed time since the current state was entered.
func (i *MatchingStateInfo) CurrentSearchTime(now time.Time) time.Duration {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return now.Sub(i.enteredAt)
}

// ClearTransient drops the non-durable subset (room code, matched players).
func (i *MatchingStateInfo) ClearTransient() {
	i.mu.Lock()
	i.roomCode = ""
	i.matchedPlayers = nil
	i.mu.Unlock()
}
