package coedit

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// In-process lobbies and packet queues. Used to run several peers in one process.

type MemoryNetworkSettings struct {
	// return true to drop an unreliable packet
	DropUnreliable func(sender PeerId, target PeerId, packet []byte) bool
}

func DefaultMemoryNetworkSettings() *MemoryNetworkSettings {
	return &MemoryNetworkSettings{}
}

type memoryLobby struct {
	info    *LobbyInfo
	members []PeerId
}

type MemoryNetwork struct {
	settings *MemoryNetworkSettings

	stateLock  sync.Mutex
	lobbies    map[LobbyId]*memoryLobby
	transports map[PeerId]*MemoryTransport
}

func NewMemoryNetworkWithDefaults() *MemoryNetwork {
	return NewMemoryNetwork(DefaultMemoryNetworkSettings())
}

func NewMemoryNetwork(settings *MemoryNetworkSettings) *MemoryNetwork {
	return &MemoryNetwork{
		settings:   settings,
		lobbies:    map[LobbyId]*memoryLobby{},
		transports: map[PeerId]*MemoryTransport{},
	}
}

func (self *MemoryNetwork) NewTransport(displayName string) *MemoryTransport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	transport := &MemoryTransport{
		network:     self,
		peerId:      NewPeerId(),
		displayName: displayName,
	}
	self.transports[transport.peerId] = transport
	return transport
}

// must hold the network lock
func (self *MemoryNetwork) notify(lobby *memoryLobby, peerId PeerId, eventType LobbyEventType) {
	for _, memberId := range lobby.members {
		if memberId == peerId {
			continue
		}
		if transport, ok := self.transports[memberId]; ok {
			transport.pushEvent(&LobbyEvent{
				LobbyId:   lobby.info.LobbyId,
				PeerId:    peerId,
				EventType: eventType,
			})
		}
	}
}

type memoryPacket struct {
	sender PeerId
	packet []byte
}

type MemoryTransport struct {
	network     *MemoryNetwork
	peerId      PeerId
	displayName string

	// guarded by the network lock
	lobbyId LobbyId

	queueLock sync.Mutex
	inbox     []memoryPacket
	events    []*LobbyEvent
	closed    bool
}

func (self *MemoryTransport) LocalPeerId() PeerId {
	return self.peerId
}

func (self *MemoryTransport) PeerName(peerId PeerId) string {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()
	if transport, ok := self.network.transports[peerId]; ok {
		return transport.displayName
	}
	return ""
}

func (self *MemoryTransport) ListLobbies(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error) {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()

	lobbies := []*LobbyInfo{}
	for _, lobby := range self.network.lobbies {
		if filter.Matches(lobby.info) {
			info := *lobby.info
			lobbies = append(lobbies, &info)
		}
	}
	slices.SortFunc(lobbies, func(a *LobbyInfo, b *LobbyInfo) int {
		if a.LobbyId < b.LobbyId {
			return -1
		} else if b.LobbyId < a.LobbyId {
			return 1
		}
		return 0
	})
	return lobbies, nil
}

func (self *MemoryTransport) CreateLobby(ctx context.Context, name string, mode string, capacity int) (*LobbyInfo, error) {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()

	self.leaveLobbyWithLock()

	info := &LobbyInfo{
		LobbyId:  NewLobbyId(),
		Name:     name,
		Mode:     mode,
		OwnerId:  self.peerId,
		Capacity: capacity,
	}
	self.network.lobbies[info.LobbyId] = &memoryLobby{
		info:    info,
		members: []PeerId{self.peerId},
	}
	self.lobbyId = info.LobbyId
	infoCopy := *info
	return &infoCopy, nil
}

func (self *MemoryTransport) JoinLobby(ctx context.Context, info *LobbyInfo) error {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()

	lobby, ok := self.network.lobbies[info.LobbyId]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLobbyNotFound, info.LobbyId)
	}
	if slices.Contains(lobby.members, self.peerId) {
		return nil
	}
	if 0 < lobby.info.Capacity && lobby.info.Capacity <= len(lobby.members) {
		return ErrLobbyFull
	}
	self.leaveLobbyWithLock()
	lobby.members = append(lobby.members, self.peerId)
	self.lobbyId = lobby.info.LobbyId
	self.network.notify(lobby, self.peerId, LobbyMemberEntered)
	return nil
}

func (self *MemoryTransport) LeaveLobby() {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()
	self.leaveLobbyWithLock()
}

func (self *MemoryTransport) leaveLobbyWithLock() {
	if self.lobbyId == "" {
		return
	}
	lobby, ok := self.network.lobbies[self.lobbyId]
	self.lobbyId = ""
	if !ok {
		return
	}
	if i := slices.Index(lobby.members, self.peerId); 0 <= i {
		lobby.members = slices.Delete(lobby.members, i, i+1)
	}
	if len(lobby.members) == 0 {
		delete(self.network.lobbies, lobby.info.LobbyId)
		return
	}
	if lobby.info.OwnerId == self.peerId {
		// ownership migrates to the longest standing member
		lobby.info.OwnerId = lobby.members[0]
	}
	self.network.notify(lobby, self.peerId, LobbyMemberLeft)
}

func (self *MemoryTransport) CurrentLobby() (*LobbyInfo, bool) {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()

	if lobby, ok := self.network.lobbies[self.lobbyId]; ok {
		info := *lobby.info
		return &info, true
	}
	return nil, false
}

func (self *MemoryTransport) LobbyMembers() []PeerId {
	self.network.stateLock.Lock()
	defer self.network.stateLock.Unlock()

	if lobby, ok := self.network.lobbies[self.lobbyId]; ok {
		return slices.Clone(lobby.members)
	}
	return []PeerId{}
}

func (self *MemoryTransport) SendPacket(target PeerId, packet []byte, reliability Reliability) error {
	self.network.stateLock.Lock()
	transport, ok := self.network.transports[target]
	self.network.stateLock.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}
	if reliability == SendUnreliable && self.network.settings.DropUnreliable != nil {
		if self.network.settings.DropUnreliable(self.peerId, target, packet) {
			glog.V(2).Infof("[mem]drop %s->%s\n", self.peerId, target)
			return nil
		}
	}
	transport.pushPacket(self.peerId, slices.Clone(packet))
	return nil
}

func (self *MemoryTransport) pushPacket(sender PeerId, packet []byte) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if self.closed {
		return
	}
	self.inbox = append(self.inbox, memoryPacket{sender: sender, packet: packet})
}

func (self *MemoryTransport) pushEvent(event *LobbyEvent) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if self.closed {
		return
	}
	self.events = append(self.events, event)
}

func (self *MemoryTransport) ReceivePacket() (PeerId, []byte, bool) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if len(self.inbox) == 0 {
		return 0, nil, false
	}
	next := self.inbox[0]
	self.inbox = self.inbox[1:]
	return next.sender, next.packet, true
}

func (self *MemoryTransport) PendingPacketCount() int {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	return len(self.inbox)
}

func (self *MemoryTransport) ReceiveLobbyEvent() (*LobbyEvent, bool) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if len(self.events) == 0 {
		return nil, false
	}
	next := self.events[0]
	self.events = self.events[1:]
	return next, true
}

func (self *MemoryTransport) ClosePeerSession(peerId PeerId) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	inbox := self.inbox[:0]
	for _, p := range self.inbox {
		if p.sender != peerId {
			inbox = append(inbox, p)
		}
	}
	self.inbox = inbox
}

func (self *MemoryTransport) Close() {
	self.LeaveLobby()

	self.network.stateLock.Lock()
	delete(self.network.transports, self.peerId)
	self.network.stateLock.Unlock()

	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	self.closed = true
	self.inbox = nil
	self.events = nil
}
