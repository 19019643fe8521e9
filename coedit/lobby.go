package coedit

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

type LobbySession struct {
	Lobby   *LobbyInfo `json:"lobby"`
	IsOwner bool       `json:"is_owner"`
	Joined  bool       `json:"joined"`
	Members []PeerId   `json:"members"`
}

func (self *LobbySession) copy() *LobbySession {
	var lobby *LobbyInfo
	if self.Lobby != nil {
		lobbyCopy := *self.Lobby
		lobby = &lobbyCopy
	}
	return &LobbySession{
		Lobby:   lobby,
		IsOwner: self.IsOwner,
		Joined:  self.Joined,
		Members: slices.Clone(self.Members),
	}
}

func (self *LobbySession) HasMember(peerId PeerId) bool {
	return slices.Contains(self.Members, peerId)
}

// Joins the first lobby for the project, or creates one when there is none.
// Lobbies that fill up between listing and joining are skipped.
// The transport applies the filter.
func FindOrCreateLobby(
	ctx context.Context,
	transport Transport,
	projectName string,
	mode string,
	capacity int,
) (*LobbySession, error) {
	return TraceWithReturnError(
		fmt.Sprintf("[lobby]find or create %s", projectName),
		func() (*LobbySession, error) {
			return findOrCreateLobby(ctx, transport, projectName, mode, capacity)
		},
	)
}

func findOrCreateLobby(
	ctx context.Context,
	transport Transport,
	projectName string,
	mode string,
	capacity int,
) (*LobbySession, error) {
	filter := LobbyFilter{
		Name: projectName,
		Mode: mode,
	}
	lobbies, err := transport.ListLobbies(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("List lobbies: %w", err)
	}
	for _, lobby := range lobbies {
		err := transport.JoinLobby(ctx, lobby)
		if err != nil {
			glog.Infof("[lobby]join %s error = %s\n", lobby.LobbyId, err)
			continue
		}
		if joined, ok := transport.CurrentLobby(); ok {
			lobby = joined
		}
		glog.Infof("[lobby]joined %s (%s)\n", lobby.LobbyId, lobby.Name)
		return &LobbySession{
			Lobby:   lobby,
			IsOwner: false,
			Joined:  true,
			Members: transport.LobbyMembers(),
		}, nil
	}

	lobby, err := transport.CreateLobby(ctx, projectName, mode, capacity)
	if err != nil {
		return nil, fmt.Errorf("Create lobby: %w", err)
	}
	glog.Infof("[lobby]created %s (%s)\n", lobby.LobbyId, lobby.Name)
	return &LobbySession{
		Lobby:   lobby,
		IsOwner: true,
		Joined:  true,
		Members: transport.LobbyMembers(),
	}, nil
}
