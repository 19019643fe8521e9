package coedit

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLobbyTxt(t *testing.T) {
	lobby := &LobbyInfo{
		LobbyId:  NewLobbyId(),
		Name:     "demo=1",
		Mode:     DefaultLobbyMode,
		OwnerId:  NewPeerId(),
		Capacity: 4,
	}
	parsed, err := lobbyFromTxt(lobbyTxt(lobby))
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, lobby)

	_, err = lobbyFromTxt([]string{"name=demo"})
	assert.NotEqual(t, err, nil)
	_, err = lobbyFromTxt([]string{"lobby=" + NewLobbyId().String(), "capacity=many"})
	assert.NotEqual(t, err, nil)
}

func TestStaticLobbyDirectory(t *testing.T) {
	ctx := context.Background()
	directory := NewStaticLobbyDirectory(&LobbyInfo{
		Address: "10.0.0.2:7300",
	})

	demo := &LobbyInfo{
		LobbyId: NewLobbyId(),
		Name:    "demo",
		Mode:    DefaultLobbyMode,
		Address: "10.0.0.3:7300",
	}
	stopAdvertise, err := directory.Advertise(demo, 7300)
	assert.Equal(t, err, nil)
	directory.Advertise(&LobbyInfo{
		LobbyId: NewLobbyId(),
		Name:    "other",
		Mode:    DefaultLobbyMode,
	}, 7301)

	lobbies, err := directory.Browse(ctx, LobbyFilter{Name: "demo", Mode: DefaultLobbyMode})
	assert.Equal(t, err, nil)
	// address only entries match any filter
	assert.Equal(t, len(lobbies), 2)
	assert.Equal(t, lobbies[0].Address, "10.0.0.2:7300")
	assert.Equal(t, lobbies[1], demo)

	lobbies, _ = directory.Browse(ctx, LobbyFilter{})
	assert.Equal(t, len(lobbies), 3)

	stopAdvertise()
	lobbies, _ = directory.Browse(ctx, LobbyFilter{Name: "demo"})
	assert.Equal(t, len(lobbies), 1)
	assert.Equal(t, lobbies[0].LobbyId, LobbyId(""))
}
