package matching

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/kvstore"
)

// snapshotKey is where the recovery snapshot lives in the store.
const snapshotKey = "matching:recovery"

// Snapshot errors.
const (
	ErrNoSnapshot      domain.Error = "no recovery snapshot"
	ErrSnapshotExpired domain.Error = "recovery snapshot expired"
)

// RecoverySnapshot captures enough matching context to offer the player a
// "resume search" after an app suspend. Saved only on explicit request.
type RecoverySnapshot struct {
	PlayerID    string
	GameMode    string
	MatchType   string
	PlayerCount int
	RoomCode    string
	State       string
	SavedAt     time.Time
}

// Snapshots persists recovery snapshots msgpack-encoded through the store.
type Snapshots struct {
	store kvstore.Store
	ttl   time.Duration
	log   *zap.Logger
}

// NewSnapshots builds a snapshot repository with the given freshness TTL.
func NewSnapshots(store kvstore.Store, ttl time.Duration, log *zap.Logger) *Snapshots {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Snapshots{store: store, ttl: ttl, log: log.With(zap.String("comp", "snapshot"))}
}

// Save captures the current state machine context.
func (s *Snapshots) Save(ctx context.Context, playerID string, m *StateManager) error {
	info := m.StateInfo()
	snap := RecoverySnapshot{
		PlayerID:    playerID,
		GameMode:    info.GameMode(),
		MatchType:   info.MatchType(),
		PlayerCount: info.PlayerCount(),
		RoomCode:    info.RoomCode(),
		State:       m.CurrentState().String(),
		SavedAt:     time.Now().UTC(),
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return err
	}
	// The store carries strings, msgpack is binary.
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := s.store.Set(ctx, snapshotKey, encoded); err != nil {
		return err
	}
	s.log.Info("recovery snapshot saved", zap.String("state", snap.State))
	return nil
}

// Load returns the stored snapshot, rejecting stale ones.
func (s *Snapshots) Load(ctx context.Context) (*RecoverySnapshot, error) {
	encoded, err := s.store.Get(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var snap RecoverySnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if time.Since(snap.SavedAt) > s.ttl {
		return nil, ErrSnapshotExpired
	}
	return &snap, nil
}

// Clear removes any stored snapshot.
func (s *Snapshots) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, snapshotKey)
}
