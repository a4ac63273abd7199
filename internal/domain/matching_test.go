package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
)

func TestIsValidPlayerCount(t *testing.T) {
	for n := -1; n <= 6; n++ {
		want := n >= 2 && n <= 4
		assert.Equal(t, want, domain.IsValidPlayerCount(n), "n=%d", n)
	}
}

func TestStateInfoClampsPlayerCount(t *testing.T) {
	info := domain.NewMatchingStateInfo()

	info.SetPlayerCount(1)
	assert.Equal(t, 2, info.PlayerCount())

	info.SetPlayerCount(9)
	assert.Equal(t, 4, info.PlayerCount())

	info.SetPlayerCount(3)
	assert.Equal(t, 3, info.PlayerCount())
}

func TestStateInfoTransientSubset(t *testing.T) {
	info := domain.NewMatchingStateInfo()
	info.SetGameMode("classic")
	info.SetMatchType("ranked")
	info.SetRoomCode("ROOM1")
	info.SetMatchedPlayers([]domain.MatchedPlayer{{PlayerID: "p1"}})

	info.ClearTransient()

	assert.Equal(t, "classic", info.GameMode())
	assert.Equal(t, "ranked", info.MatchType())
	assert.Empty(t, info.RoomCode())
	assert.Empty(t, info.MatchedPlayers())
}

func TestCurrentSearchTime(t *testing.T) {
	info := domain.NewMatchingStateInfo()
	entered := time.Now()
	info.MarkStateEntered(entered)
	assert.Equal(t, 5*time.Second, info.CurrentSearchTime(entered.Add(5*time.Second)))
}

func TestMatchedPlayersCopies(t *testing.T) {
	info := domain.NewMatchingStateInfo()
	players := []domain.MatchedPlayer{{PlayerID: "p1"}, {PlayerID: "p2"}}
	info.SetMatchedPlayers(players)

	got := info.MatchedPlayers()
	got[0].PlayerID = "mutated"
	assert.Equal(t, "p1", info.MatchedPlayers()[0].PlayerID)
}
