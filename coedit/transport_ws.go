package coedit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"
)

// Lobbies over websockets. The peer that creates a lobby hosts it: members
// hold one connection to the host and the host relays packets between members.

var ErrTransportClosed = errors.New("Transport closed.")

const wsLobbyPath = "/lobby"

const wsRejectFull = "full"
const wsRejectNotFound = "not found"

type WsTransportSettings struct {
	ListenAddress string
	// host put into the advertised lobby address. Defaults to the listen host.
	AdvertiseHost    string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration
	SendBufferSize   int
	JoinRetries      uint64
}

func DefaultWsTransportSettings() *WsTransportSettings {
	return &WsTransportSettings{
		ListenAddress:    "0.0.0.0:0",
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
		PingTimeout:      5 * time.Second,
		SendBufferSize:   64,
		JoinRetries:      4,
	}
}

type wsConn struct {
	ctx    context.Context
	cancel context.CancelFunc
	peerId PeerId
	ws     *websocket.Conn
	send   chan []byte
}

func (self *wsConn) enqueue(b []byte, reliability Reliability, timeout time.Duration) error {
	if reliability == SendReliable {
		select {
		case <-self.ctx.Done():
			return ErrTransportClosed
		case self.send <- b:
			return nil
		case <-time.After(timeout):
			return fmt.Errorf("Send to %s timed out.", self.peerId)
		}
	}
	select {
	case <-self.ctx.Done():
		return ErrTransportClosed
	case self.send <- b:
	default:
		glog.V(2).Infof("[ws]drop ->%s\n", self.peerId)
	}
	return nil
}

type WsTransport struct {
	ctx         context.Context
	cancel      context.CancelFunc
	peerId      PeerId
	displayName string
	directory   LobbyDirectory
	settings    *WsTransportSettings

	listener net.Listener
	server   *http.Server

	stateLock     sync.Mutex
	lobby         *LobbyInfo
	isOwner       bool
	members       []PeerId
	names         map[PeerId]string
	conns         map[PeerId]*wsConn
	stopAdvertise func()

	queueLock sync.Mutex
	inbox     []memoryPacket
	events    []*LobbyEvent
}

func NewWsTransportWithDefaults(
	ctx context.Context,
	displayName string,
	directory LobbyDirectory,
) (*WsTransport, error) {
	return NewWsTransport(ctx, displayName, directory, DefaultWsTransportSettings())
}

func NewWsTransport(
	ctx context.Context,
	displayName string,
	directory LobbyDirectory,
	settings *WsTransportSettings,
) (*WsTransport, error) {
	listener, err := net.Listen("tcp", settings.ListenAddress)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:         cancelCtx,
		cancel:      cancel,
		peerId:      NewPeerId(),
		displayName: displayName,
		directory:   directory,
		settings:    settings,
		listener:    listener,
		names:       map[PeerId]string{},
		conns:       map[PeerId]*wsConn{},
		members:     []PeerId{},
	}

	router := mux.NewRouter()
	router.HandleFunc(wsLobbyPath, transport.handleLobby)
	transport.server = &http.Server{
		Handler: router,
	}
	go func() {
		if err := transport.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Infof("[ws]serve error = %s\n", err)
		}
	}()
	glog.V(1).Infof("[ws]listen %s as %s\n", listener.Addr(), transport.peerId)
	return transport, nil
}

func (self *WsTransport) Port() int {
	return self.listener.Addr().(*net.TCPAddr).Port
}

func (self *WsTransport) Address() string {
	host := self.settings.AdvertiseHost
	if host == "" {
		host = self.listener.Addr().(*net.TCPAddr).IP.String()
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", self.Port()))
}

func (self *WsTransport) LocalPeerId() PeerId {
	return self.peerId
}

func (self *WsTransport) PeerName(peerId PeerId) string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.names[peerId]
}

func (self *WsTransport) ListLobbies(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error) {
	return self.directory.Browse(ctx, filter)
}

func (self *WsTransport) CreateLobby(ctx context.Context, name string, mode string, capacity int) (*LobbyInfo, error) {
	self.LeaveLobby()

	lobby := &LobbyInfo{
		LobbyId:  NewLobbyId(),
		Name:     name,
		Mode:     mode,
		OwnerId:  self.peerId,
		Capacity: capacity,
		Address:  self.Address(),
	}
	stopAdvertise, err := self.directory.Advertise(lobby, self.Port())
	if err != nil {
		return nil, fmt.Errorf("Advertise lobby: %w", err)
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.lobby = lobby
	self.isOwner = true
	self.members = []PeerId{self.peerId}
	self.names = map[PeerId]string{self.peerId: self.displayName}
	self.conns = map[PeerId]*wsConn{}
	self.stopAdvertise = stopAdvertise
	lobbyCopy := *lobby
	return &lobbyCopy, nil
}

func (self *WsTransport) newConn(peerId PeerId, ws *websocket.Conn) *wsConn {
	connCtx, connCancel := context.WithCancel(self.ctx)
	return &wsConn{
		ctx:    connCtx,
		cancel: connCancel,
		peerId: peerId,
		ws:     ws,
		send:   make(chan []byte, max(1, self.settings.SendBufferSize)),
	}
}

func (self *WsTransport) writeDirect(ws *websocket.Conn, frame *wsFrame) error {
	ws.SetWriteDeadline(time.Now().Add(self.settings.HandshakeTimeout))
	return ws.WriteMessage(websocket.BinaryMessage, encodeWsFrame(frame))
}

func (self *WsTransport) readDirect(ws *websocket.Conn) (*wsFrame, error) {
	ws.SetReadDeadline(time.Now().Add(self.settings.HandshakeTimeout))
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			return nil, fmt.Errorf("Unexpected message type %d", messageType)
		}
		if 0 == len(message) {
			// ping
			continue
		}
		return decodeWsFrame(message)
	}
}

// must hold the state lock
func (self *WsTransport) membersFrameWithLock() []byte {
	members := []*wsMember{}
	for _, peerId := range self.members {
		members = append(members, &wsMember{
			PeerId: peerId,
			Name:   self.names[peerId],
		})
	}
	return encodeWsFrame(&wsFrame{
		Kind:    wsFrameMembers,
		Source:  self.peerId,
		Text:    self.lobby.Name,
		Members: members,
		LobbyId: self.lobby.LobbyId,
	})
}

// must hold the state lock
func (self *WsTransport) connsWithLock() []*wsConn {
	conns := []*wsConn{}
	for _, conn := range self.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (self *WsTransport) broadcastFrame(b []byte, conns []*wsConn) {
	for _, conn := range conns {
		if err := conn.enqueue(b, SendReliable, self.settings.WriteTimeout); err != nil {
			glog.Infof("[ws]members ->%s error = %s\n", conn.peerId, err)
		}
	}
}

// host side of a member connection
func (self *WsTransport) handleLobby(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[ws]upgrade error = %s\n", err)
		return
	}

	join, err := self.readDirect(ws)
	if err != nil || join.Kind != wsFrameJoin || join.Source == 0 {
		glog.Infof("[ws]bad join = %v\n", err)
		ws.Close()
		return
	}

	reject := func(reason string) {
		self.writeDirect(ws, &wsFrame{
			Kind:   wsFrameReject,
			Source: self.peerId,
			Text:   reason,
		})
		ws.Close()
	}

	self.stateLock.Lock()
	if !self.isOwner || self.lobby == nil || (join.LobbyId != "" && join.LobbyId != self.lobby.LobbyId) {
		self.stateLock.Unlock()
		reject(wsRejectNotFound)
		return
	}
	if slices.Contains(self.members, join.Source) {
		self.stateLock.Unlock()
		reject(wsRejectNotFound)
		return
	}
	if 0 < self.lobby.Capacity && self.lobby.Capacity <= len(self.members) {
		self.stateLock.Unlock()
		reject(wsRejectFull)
		return
	}
	lobbyId := self.lobby.LobbyId
	self.members = append(self.members, join.Source)
	self.names[join.Source] = join.Text
	membersFrame := self.membersFrameWithLock()
	// the member list is the join reply, so it must be the first frame the new member reads
	conn := self.newConn(join.Source, ws)
	conn.send <- membersFrame
	conns := self.connsWithLock()
	self.conns[join.Source] = conn
	self.stateLock.Unlock()

	glog.V(1).Infof("[ws]member %s entered %s\n", join.Source, lobbyId)
	go self.runConn(conn, self.hostFrame, self.hostClose)
	self.broadcastFrame(membersFrame, conns)
	self.pushEvent(&LobbyEvent{
		LobbyId:   lobbyId,
		PeerId:    join.Source,
		EventType: LobbyMemberEntered,
	})
}

func (self *WsTransport) hostFrame(conn *wsConn, frame *wsFrame) {
	if frame.Kind != wsFrameData {
		glog.V(2).Infof("[ws]ignore frame %d from %s\n", frame.Kind, conn.peerId)
		return
	}
	if frame.Destination == self.peerId {
		self.pushPacket(conn.peerId, frame.Payload)
		return
	}

	self.stateLock.Lock()
	target, ok := self.conns[frame.Destination]
	self.stateLock.Unlock()
	if !ok {
		glog.V(2).Infof("[ws]drop relay %s->%s\n", conn.peerId, frame.Destination)
		return
	}
	reliability := SendUnreliable
	if frame.Reliable {
		reliability = SendReliable
	}
	relay := encodeWsFrame(&wsFrame{
		Kind:        wsFrameData,
		Source:      conn.peerId,
		Destination: frame.Destination,
		Payload:     frame.Payload,
		Reliable:    frame.Reliable,
	})
	if err := target.enqueue(relay, reliability, self.settings.WriteTimeout); err != nil {
		glog.Infof("[ws]relay %s->%s error = %s\n", conn.peerId, frame.Destination, err)
	}
}

func (self *WsTransport) hostClose(conn *wsConn) {
	self.stateLock.Lock()
	if self.conns[conn.peerId] != conn {
		self.stateLock.Unlock()
		return
	}
	delete(self.conns, conn.peerId)
	if i := slices.Index(self.members, conn.peerId); 0 <= i {
		self.members = slices.Delete(self.members, i, i+1)
	}
	lobbyId := self.lobby.LobbyId
	membersFrame := self.membersFrameWithLock()
	conns := self.connsWithLock()
	self.stateLock.Unlock()

	glog.V(1).Infof("[ws]member %s left %s\n", conn.peerId, lobbyId)
	self.pushEvent(&LobbyEvent{
		LobbyId:   lobbyId,
		PeerId:    conn.peerId,
		EventType: LobbyMemberLeft,
	})
	self.broadcastFrame(membersFrame, conns)
}

func (self *WsTransport) JoinLobby(ctx context.Context, lobby *LobbyInfo) error {
	if lobby.Address == "" {
		return fmt.Errorf("%w: no address", ErrLobbyNotFound)
	}
	url := fmt.Sprintf("ws://%s%s", lobby.Address, wsLobbyPath)

	var ws *websocket.Conn
	dial := func() error {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.HandshakeTimeout,
		}
		c, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			glog.V(1).Infof("[ws]dial %s error = %s\n", url, err)
			return err
		}
		ws = c
		return nil
	}
	retry := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), self.settings.JoinRetries),
		ctx,
	)
	if err := backoff.Retry(dial, retry); err != nil {
		return fmt.Errorf("Join %s: %w", lobby.Address, err)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	err := self.writeDirect(ws, &wsFrame{
		Kind:    wsFrameJoin,
		Source:  self.peerId,
		Text:    self.displayName,
		LobbyId: lobby.LobbyId,
	})
	if err != nil {
		return err
	}
	reply, err := self.readDirect(ws)
	if err != nil {
		return err
	}
	switch reply.Kind {
	case wsFrameMembers:
	case wsFrameReject:
		if reply.Text == wsRejectFull {
			return ErrLobbyFull
		}
		return fmt.Errorf("%w: %s", ErrLobbyNotFound, reply.Text)
	default:
		return fmt.Errorf("Unexpected join reply %d", reply.Kind)
	}

	self.LeaveLobby()

	joinedLobby := *lobby
	joinedLobby.LobbyId = reply.LobbyId
	joinedLobby.OwnerId = reply.Source
	if joinedLobby.Name == "" {
		joinedLobby.Name = reply.Text
	}

	self.stateLock.Lock()
	self.lobby = &joinedLobby
	self.isOwner = false
	self.members = []PeerId{}
	self.names = map[PeerId]string{}
	for _, member := range reply.Members {
		self.members = append(self.members, member.PeerId)
		self.names[member.PeerId] = member.Name
	}
	conn := self.newConn(reply.Source, ws)
	self.conns = map[PeerId]*wsConn{reply.Source: conn}
	self.stateLock.Unlock()

	success = true
	glog.V(1).Infof("[ws]joined %s via %s\n", joinedLobby.LobbyId, lobby.Address)
	go self.runConn(conn, self.memberFrame, self.memberClose)
	return nil
}

func (self *WsTransport) memberFrame(conn *wsConn, frame *wsFrame) {
	switch frame.Kind {
	case wsFrameData:
		self.pushPacket(frame.Source, frame.Payload)
	case wsFrameMembers:
		self.stateLock.Lock()
		if self.lobby == nil || self.conns[conn.peerId] != conn {
			self.stateLock.Unlock()
			return
		}
		lobbyId := self.lobby.LobbyId
		previous := self.members
		self.members = []PeerId{}
		for _, member := range frame.Members {
			self.members = append(self.members, member.PeerId)
			self.names[member.PeerId] = member.Name
		}
		events := []*LobbyEvent{}
		for _, peerId := range self.members {
			if peerId != self.peerId && !slices.Contains(previous, peerId) {
				events = append(events, &LobbyEvent{LobbyId: lobbyId, PeerId: peerId, EventType: LobbyMemberEntered})
			}
		}
		for _, peerId := range previous {
			if peerId != self.peerId && !slices.Contains(self.members, peerId) {
				events = append(events, &LobbyEvent{LobbyId: lobbyId, PeerId: peerId, EventType: LobbyMemberLeft})
			}
		}
		self.stateLock.Unlock()
		for _, event := range events {
			self.pushEvent(event)
		}
	default:
		glog.V(2).Infof("[ws]ignore frame %d from host\n", frame.Kind)
	}
}

// the host is gone, so is the lobby
func (self *WsTransport) memberClose(conn *wsConn) {
	self.stateLock.Lock()
	if self.lobby == nil || self.conns[conn.peerId] != conn {
		self.stateLock.Unlock()
		return
	}
	lobbyId := self.lobby.LobbyId
	events := []*LobbyEvent{}
	for _, peerId := range self.members {
		if peerId != self.peerId {
			events = append(events, &LobbyEvent{LobbyId: lobbyId, PeerId: peerId, EventType: LobbyMemberLeft})
		}
	}
	self.lobby = nil
	self.members = []PeerId{}
	self.conns = map[PeerId]*wsConn{}
	self.stateLock.Unlock()

	glog.Infof("[ws]host closed lobby %s\n", lobbyId)
	for _, event := range events {
		self.pushEvent(event)
	}
}

func (self *WsTransport) runConn(conn *wsConn, onFrame func(*wsConn, *wsFrame), onClose func(*wsConn)) {
	defer func() {
		conn.cancel()
		conn.ws.Close()
		onClose(conn)
	}()

	go func() {
		<-conn.ctx.Done()
		conn.ws.Close()
	}()

	go func() {
		defer conn.cancel()

		for {
			select {
			case <-conn.ctx.Done():
				return
			case message := <-conn.send:
				conn.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := conn.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					// note that for websocket a dealine timeout cannot be recovered
					glog.Infof("[ws]->%s error = %s\n", conn.peerId, err)
					return
				}
				glog.V(2).Infof("[ws]->%s\n", conn.peerId)
			case <-time.After(self.settings.PingTimeout):
				conn.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := conn.ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-conn.ctx.Done():
			default:
				glog.Infof("[ws]<-%s error = %s\n", conn.peerId, err)
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if 0 == len(message) {
				// ping
				continue
			}
			frame, err := decodeWsFrame(message)
			if err != nil {
				glog.Infof("[ws]<-%s bad frame = %s\n", conn.peerId, err)
				continue
			}
			onFrame(conn, frame)
		default:
			glog.V(2).Infof("[ws]<-%s other=%d\n", conn.peerId, messageType)
		}
	}
}

func (self *WsTransport) LeaveLobby() {
	self.stateLock.Lock()
	conns := self.connsWithLock()
	stopAdvertise := self.stopAdvertise
	self.lobby = nil
	self.isOwner = false
	self.members = []PeerId{}
	self.conns = map[PeerId]*wsConn{}
	self.stopAdvertise = nil
	self.stateLock.Unlock()

	if stopAdvertise != nil {
		stopAdvertise()
	}
	for _, conn := range conns {
		conn.cancel()
	}
}

func (self *WsTransport) LobbyMembers() []PeerId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.members)
}

func (self *WsTransport) CurrentLobby() (*LobbyInfo, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.lobby == nil {
		return nil, false
	}
	lobbyCopy := *self.lobby
	return &lobbyCopy, true
}

func (self *WsTransport) SendPacket(target PeerId, packet []byte, reliability Reliability) error {
	self.stateLock.Lock()
	if self.lobby == nil {
		self.stateLock.Unlock()
		return ErrNotJoined
	}
	var conn *wsConn
	if self.isOwner {
		conn = self.conns[target]
	} else {
		conn = self.conns[self.lobby.OwnerId]
	}
	self.stateLock.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}
	frame := encodeWsFrame(&wsFrame{
		Kind:        wsFrameData,
		Source:      self.peerId,
		Destination: target,
		Payload:     packet,
		Reliable:    reliability == SendReliable,
	})
	return conn.enqueue(frame, reliability, self.settings.WriteTimeout)
}

func (self *WsTransport) pushPacket(sender PeerId, packet []byte) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	self.inbox = append(self.inbox, memoryPacket{sender: sender, packet: packet})
}

func (self *WsTransport) pushEvent(event *LobbyEvent) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	self.events = append(self.events, event)
}

func (self *WsTransport) ReceivePacket() (PeerId, []byte, bool) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if len(self.inbox) == 0 {
		return 0, nil, false
	}
	next := self.inbox[0]
	self.inbox = self.inbox[1:]
	return next.sender, next.packet, true
}

func (self *WsTransport) PendingPacketCount() int {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	return len(self.inbox)
}

func (self *WsTransport) ReceiveLobbyEvent() (*LobbyEvent, bool) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if len(self.events) == 0 {
		return nil, false
	}
	next := self.events[0]
	self.events = self.events[1:]
	return next, true
}

func (self *WsTransport) ClosePeerSession(peerId PeerId) {
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

func (self *WsTransport) Close() {
	self.LeaveLobby()
	self.cancel()
	self.server.Close()
}

// "host:port" with an optional ws:// prefix
func NormalizeLobbyAddress(address string) string {
	address = strings.TrimPrefix(address, "ws://")
	return strings.TrimSuffix(address, wsLobbyPath)
}
