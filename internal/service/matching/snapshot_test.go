package matching_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/kvstore"
	"github.com/JokerTrickster/unity-dice-sub000/internal/service/matching"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store := kvstore.NewMemoryStore()
	snaps := matching.NewSnapshots(store, time.Minute, nil)

	states := matching.NewStateManager(matching.StateConfig{}, matching.StateCallbacks{}, store, nil)
	defer states.Close()
	info := states.StateInfo()
	info.SetGameMode("classic")
	info.SetMatchType("ranked")
	info.SetPlayerCount(3)
	info.SetRoomCode("ROOM9")
	require.True(t, states.ChangeState(domain.MatchingSearching, "join"))

	ctx := context.Background()
	require.NoError(t, snaps.Save(ctx, "p1", states))

	got, err := snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, "classic", got.GameMode)
	assert.Equal(t, "ranked", got.MatchType)
	assert.Equal(t, 3, got.PlayerCount)
	assert.Equal(t, "ROOM9", got.RoomCode)
	assert.Equal(t, "searching", got.State)
}

func TestSnapshotMissing(t *testing.T) {
	snaps := matching.NewSnapshots(kvstore.NewMemoryStore(), time.Minute, nil)
	_, err := snaps.Load(context.Background())
	assert.ErrorIs(t, err, matching.ErrNoSnapshot)
}

func TestSnapshotExpires(t *testing.T) {
	store := kvstore.NewMemoryStore()
	snaps := matching.NewSnapshots(store, 50*time.Millisecond, nil)

	states := matching.NewStateManager(matching.StateConfig{}, matching.StateCallbacks{}, store, nil)
	defer states.Close()

	ctx := context.Background()
	require.NoError(t, snaps.Save(ctx, "p1", states))

	time.Sleep(120 * time.Millisecond)
	_, err := snaps.Load(ctx)
	assert.ErrorIs(t, err, matching.ErrSnapshotExpired)
}

func TestSnapshotClear(t *testing.T) {
	store := kvstore.NewMemoryStore()
	snaps := matching.NewSnapshots(store, time.Minute, nil)

	states := matching.NewStateManager(matching.StateConfig{}, matching.StateCallbacks{}, store, nil)
	defer states.Close()

	ctx := context.Background()
	require.NoError(t, snaps.Save(ctx, "p1", states))
	require.NoError(t, snaps.Clear(ctx))

	_, err := snaps.Load(ctx)
	assert.ErrorIs(t, err, matching.ErrNoSnapshot)
}
