package coedit

import (
	"context"
	"errors"
)

var ErrLobbyFull = errors.New("Lobby full.")
var ErrLobbyNotFound = errors.New("Lobby not found.")
var ErrNotJoined = errors.New("Not joined to a lobby.")
var ErrUnknownPeer = errors.New("Unknown peer.")

const DefaultLobbyMode = "CoeditProject"
const DefaultLobbyCapacity = 4

type Reliability int

const (
	// may be dropped, no ordering across peers
	SendUnreliable Reliability = iota
	SendReliable
)

type LobbyEventType int

const (
	LobbyMemberEntered LobbyEventType = iota
	LobbyMemberLeft
)

func (self LobbyEventType) String() string {
	switch self {
	case LobbyMemberEntered:
		return "entered"
	case LobbyMemberLeft:
		return "left"
	default:
		return "unknown"
	}
}

type LobbyEvent struct {
	LobbyId   LobbyId
	PeerId    PeerId
	EventType LobbyEventType
}

type LobbyInfo struct {
	LobbyId  LobbyId `json:"lobby_id"`
	Name     string  `json:"name"`
	Mode     string  `json:"mode"`
	OwnerId  PeerId  `json:"owner_id"`
	Capacity int     `json:"capacity"`
	// transport specific address of the lobby host, e.g. `host:port`
	Address string `json:"address,omitempty"`
}

type LobbyFilter struct {
	Name string
	Mode string
}

func (self LobbyFilter) Matches(lobby *LobbyInfo) bool {
	if self.Name != "" && self.Name != lobby.Name {
		return false
	}
	if self.Mode != "" && self.Mode != lobby.Mode {
		return false
	}
	return true
}

// The peer-to-peer messaging capability. One lobby at a time per transport.
// Receive calls never block; the tick polls them.
type Transport interface {
	LocalPeerId() PeerId
	PeerName(peerId PeerId) string

	ListLobbies(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error)
	CreateLobby(ctx context.Context, name string, mode string, capacity int) (*LobbyInfo, error)
	JoinLobby(ctx context.Context, lobby *LobbyInfo) error
	LeaveLobby()
	CurrentLobby() (*LobbyInfo, bool)
	// includes the local peer
	LobbyMembers() []PeerId

	SendPacket(target PeerId, packet []byte, reliability Reliability) error
	ReceivePacket() (sender PeerId, packet []byte, ok bool)
	PendingPacketCount() int
	ReceiveLobbyEvent() (*LobbyEvent, bool)
	ClosePeerSession(peerId PeerId)

	Close()
}
