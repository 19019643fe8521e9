package coedit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

const DefaultCallPath = "CoEdit"

type SyncSettings struct {
	ProjectName     string
	DisplayName     string
	LobbyMode       string
	LobbyCapacity   int
	PacketReadLimit int
	PacketSizeLimit int
	Reliability     Reliability
	TickInterval    time.Duration
	// the address remote calls are delivered to
	CallPath string
	// signs and verifies handshake identities. Empty accepts any identity.
	IdentitySecret []byte
	// how long a change applied for a remote peer is kept from being sent back
	RemoteEchoWindow time.Duration

	WatcherSettings  *FilesystemWatcherSettings
	ExecutorSettings *ExecutorSettings
}

func DefaultSyncSettings(projectName string) *SyncSettings {
	return &SyncSettings{
		ProjectName:      projectName,
		LobbyMode:        DefaultLobbyMode,
		LobbyCapacity:    DefaultLobbyCapacity,
		PacketReadLimit:  DefaultPacketReadLimit,
		PacketSizeLimit:  DefaultPacketSizeLimit,
		Reliability:      SendUnreliable,
		TickInterval:     time.Second / 30,
		CallPath:         DefaultCallPath,
		RemoteEchoWindow: 5 * time.Second,
		WatcherSettings:  DefaultFilesystemWatcherSettings(),
		ExecutorSettings: DefaultExecutorSettings(),
	}
}

// Keeps the local editor and the lobby peers converged. All protocol work
// happens in `Tick`, which host events are serialized with.
type Synchronizer struct {
	transport Transport
	workspace *Workspace
	settings  *SyncSettings

	registry   *PeerRegistry
	dispatcher *PacketDispatcher
	watcher    *FilesystemWatcher
	diffEngine *DiffEngine
	executor   *RemoteExecutor

	stateLock         sync.Mutex
	enabled           bool
	closed            bool
	session           *LobbySession
	lastScriptSource  string
	lastLiveText      string
	lastScenePath     string
	lastSceneData     string
	remoteFileEchoes  map[string]time.Time
	remoteSceneEchoes map[string]time.Time
	remotelyEdited    []string
}

func NewSynchronizerWithDefaults(transport Transport, workspace *Workspace, projectName string) *Synchronizer {
	return NewSynchronizer(transport, workspace, DefaultSyncSettings(projectName))
}

func NewSynchronizer(transport Transport, workspace *Workspace, settings *SyncSettings) *Synchronizer {
	localPeerId := transport.LocalPeerId()
	displayName := settings.DisplayName
	if displayName == "" {
		displayName = transport.PeerName(localPeerId)
	}

	synchronizer := &Synchronizer{
		transport:         transport,
		workspace:         workspace,
		settings:          settings,
		registry:          NewPeerRegistry(localPeerId, displayName),
		watcher:           NewFilesystemWatcher(workspace.Files, settings.WatcherSettings),
		diffEngine:        NewDiffEngine(),
		session:           &LobbySession{Members: []PeerId{}},
		remoteFileEchoes:  map[string]time.Time{},
		remoteSceneEchoes: map[string]time.Time{},
		remotelyEdited:    []string{},
	}
	inbound := &syncInbound{synchronizer: synchronizer}
	synchronizer.executor = NewRemoteExecutor(
		inbound,
		workspace,
		synchronizer.registry,
		synchronizer.diffEngine,
		settings.ExecutorSettings,
	)
	synchronizer.dispatcher = NewPacketDispatcher(transport, inbound, settings.PacketReadLimit)
	synchronizer.dispatcher.AddCallTarget(settings.CallPath, synchronizer.executor)
	return synchronizer
}

func (self *Synchronizer) LocalPeerId() PeerId {
	return self.registry.LocalPeerId()
}

func (self *Synchronizer) Registry() *PeerRegistry {
	return self.registry
}

func (self *Synchronizer) Session() *LobbySession {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session.copy()
}

func (self *Synchronizer) IsLobbyOwner() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.isLobbyOwner()
}

func (self *Synchronizer) Enabled() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.enabled
}

// Starts the filesystem watcher, then joins the project lobby or creates one.
// On error the synchronizer stays disabled and ticks do nothing.
func (self *Synchronizer) Start(ctx context.Context) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.enabled {
		return nil
	}
	if self.closed {
		return ErrTransportClosed
	}

	if err := self.watcher.Start(); err != nil {
		return fmt.Errorf("Start filesystem watcher: %w", err)
	}
	session, err := FindOrCreateLobby(
		ctx,
		self.transport,
		self.settings.ProjectName,
		self.settings.LobbyMode,
		self.settings.LobbyCapacity,
	)
	if err != nil {
		self.watcher.Stop()
		glog.Infof("[sync]disabled = %s\n", err)
		return err
	}
	self.session = session
	self.enabled = true

	self.send(BroadcastPeerId, self.handshake())
	return nil
}

// ticks at the configured interval until the context is done
func (self *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(self.settings.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self.Tick()
		}
	}
}

// Stops and joins the watcher before the lobby and peer sessions are closed.
func (self *Synchronizer) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	self.closed = true
	self.enabled = false

	Trace("[sync]close", func() {
		self.watcher.Stop()
		members := self.session.Members
		self.transport.LeaveLobby()
		for _, peerId := range members {
			if peerId != self.LocalPeerId() {
				self.transport.ClosePeerSession(peerId)
			}
		}
		self.session = &LobbySession{Members: []PeerId{}}
	})
}

func (self *Synchronizer) Tick() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.enabled {
		return
	}

	self.processLobbyEvents()
	self.dispatcher.Drain()
	if self.workspace.Pointer != nil {
		self.syncPointer()
	}
	self.syncFilesystem()
	if self.workspace.Scripts != nil {
		self.syncScripts()
		self.syncLiveEdits()
	}
	if self.workspace.Scenes != nil {
		self.syncScene()
		self.syncSelection()
	}
	self.updateDecorations()
	self.expireEchoes()
}

func (self *Synchronizer) isLobbyOwner() bool {
	if lobby, ok := self.transport.CurrentLobby(); ok {
		return lobby.OwnerId == self.LocalPeerId()
	}
	return self.session.IsOwner
}

func (self *Synchronizer) refreshMembers() {
	self.session.Members = self.transport.LobbyMembers()
	if self.session.Joined && len(self.session.Members) == 0 {
		glog.Infof("[sync]lobby closed\n")
		self.session.Joined = false
	}
	self.session.IsOwner = self.isLobbyOwner()
}

func (self *Synchronizer) processLobbyEvents() {
	for {
		event, ok := self.transport.ReceiveLobbyEvent()
		if !ok {
			return
		}
		glog.V(1).Infof("[sync]lobby %s %s\n", event.EventType, event.PeerId)
		switch event.EventType {
		case LobbyMemberEntered:
			self.refreshMembers()
		case LobbyMemberLeft:
			self.registry.Remove(event.PeerId)
			self.transport.ClosePeerSession(event.PeerId)
			self.refreshMembers()
		}
	}
}

func (self *Synchronizer) handshake() *Handshake {
	lobbyId := LobbyId("")
	if self.session.Lobby != nil {
		lobbyId = self.session.Lobby.LobbyId
	}
	identity, err := SignPeerIdentity(&PeerIdentity{
		PeerId:      self.LocalPeerId(),
		DisplayName: self.registry.DisplayName(self.LocalPeerId()),
		LobbyId:     lobbyId,
	}, self.settings.IdentitySecret)
	if err != nil {
		glog.Warningf("[sync]sign identity = %s\n", err)
		return &Handshake{}
	}
	return &Handshake{
		Identity: identity,
	}
}

// `BroadcastPeerId` sends to every other lobby member
func (self *Synchronizer) send(target PeerId, message Message) {
	self.sendWithReliability(target, message, self.settings.Reliability)
}

func (self *Synchronizer) sendWithReliability(target PeerId, message Message, reliability Reliability) {
	packet, err := EncodeMessage(message, self.settings.PacketSizeLimit)
	if err != nil {
		glog.Warningf("[sync]drop %s ->%s = %s\n", message.MessageName(), target, err)
		return
	}
	targets := []PeerId{target}
	if target == BroadcastPeerId {
		targets = []PeerId{}
		for _, peerId := range self.session.Members {
			if peerId != self.LocalPeerId() {
				targets = append(targets, peerId)
			}
		}
	}
	for _, peerId := range targets {
		if err := self.transport.SendPacket(peerId, packet, reliability); err != nil {
			glog.Infof("[sync]send %s ->%s error = %s\n", message.MessageName(), peerId, err)
			continue
		}
		glog.V(2).Infof("[sync]%s ->%s\n", message.MessageName(), peerId)
	}
}

func (self *Synchronizer) sendCall(target PeerId, call RemoteCall) {
	self.send(target, ToCallFunc(self.settings.CallPath, call))
}

// The local pointer goes to every peer on every tick, so it is sent unreliably.
// The remote pointers are handed to the overlay each tick.
func (self *Synchronizer) syncPointer() {
	pointer := self.workspace.Pointer
	if position, ok := pointer.LocalPointer(); ok {
		self.registry.SetPointer(self.LocalPeerId(), position)
		callFunc := ToCallFunc(self.settings.CallPath, &SetMousePosition{
			Sender:   self.LocalPeerId(),
			Position: position,
		})
		for _, peerId := range self.registry.CompletedPeers() {
			self.sendWithReliability(peerId, callFunc, SendUnreliable)
		}
	}
	pointer.SetRemotePointers(self.registry.RemotePointers())
}

// applies to the local record and pushes to every peer in the same call
func (self *Synchronizer) setLocalMetadata(key string, value any) {
	self.registry.UpsertMetadata(self.LocalPeerId(), key, value)
	self.send(BroadcastPeerId, &SetUserData{
		Sender: self.LocalPeerId(),
		Item:   key,
		Value:  value,
	})
}

func (self *Synchronizer) localString(key string) string {
	value, _ := self.registry.GetString(self.LocalPeerId(), key)
	return value
}

func (self *Synchronizer) localTab() MainScreen {
	tab, _ := self.registry.GetInt(self.LocalPeerId(), KeyEditorTabIndex)
	return MainScreen(tab)
}

func (self *Synchronizer) handleHandshake(sender PeerId, handshake *Handshake) {
	if sender == self.LocalPeerId() {
		return
	}

	displayName := self.transport.PeerName(sender)
	if handshake.Identity != "" {
		identity, err := ParsePeerIdentity(handshake.Identity, self.settings.IdentitySecret)
		if err != nil {
			glog.Warningf("[sync]handshake %s bad identity = %s\n", sender, err)
			return
		}
		if identity.PeerId != sender {
			glog.Warningf("[sync]handshake %s claims to be %s\n", sender, identity.PeerId)
			return
		}
		displayName = identity.DisplayName
	} else if 0 < len(self.settings.IdentitySecret) {
		glog.Warningf("[sync]handshake %s has no identity\n", sender)
		return
	}

	isNew := self.registry.MarkHandshakeCompleted(sender)
	if displayName != "" {
		self.registry.SetDisplayName(sender, displayName)
	}
	if !self.session.HasMember(sender) {
		self.refreshMembers()
	}
	if !isNew {
		return
	}

	glog.V(1).Infof("[sync]handshake completed with %s (%s)\n", sender, displayName)
	self.send(sender, self.handshake())
	self.send(sender, &SyncUserData{
		UserId: self.LocalPeerId(),
		Data:   self.registry.SnapshotFor(self.LocalPeerId()),
	})
	if self.isLobbyOwner() {
		self.sendFilesystemManifest(sender)
	}
}

func (self *Synchronizer) handleSetUserData(sender PeerId, setUserData *SetUserData) {
	if sender == self.LocalPeerId() || setUserData.Sender == self.LocalPeerId() {
		glog.Warningf("[sync]set_user_data for the local peer from %s\n", sender)
		return
	}
	if setUserData.Sender != sender {
		glog.Warningf("[sync]set_user_data from %s for %s\n", sender, setUserData.Sender)
		return
	}
	if !self.registry.Has(sender) {
		glog.Warningf("[sync]set_user_data from unknown peer %s\n", sender)
		return
	}
	self.registry.UpsertMetadata(sender, setUserData.Item, setUserData.Value)
}

func (self *Synchronizer) handleSyncUserData(sender PeerId, syncUserData *SyncUserData) {
	if syncUserData.UserId == self.LocalPeerId() {
		glog.Warningf("[sync]sync_user_data for the local peer from %s\n", sender)
		return
	}
	if syncUserData.UserId != sender {
		glog.Warningf("[sync]sync_user_data from %s for %s\n", sender, syncUserData.UserId)
		return
	}
	self.registry.LoadSnapshot(sender, syncUserData.Data)
}

func (self *Synchronizer) handleSyncVar(sender PeerId, syncVar *SyncVar) {
	if self.workspace.Scenes == nil {
		return
	}
	root := self.workspace.Scenes.EditedSceneRoot()
	if root == nil {
		glog.Warningf("[sync]sync_var from %s = %s\n", sender, ErrNoEditedScene)
		return
	}
	node := root.GetNode(syncVar.Path)
	if node == nil {
		glog.Warningf("[sync]sync_var from %s = %s: %s\n", sender, ErrNodeNotFound, syncVar.Path)
		return
	}
	if err := node.SetProperty(syncVar.Property, syncVar.Value); err != nil {
		glog.Warningf("[sync]sync_var from %s = %s\n", sender, err)
		return
	}
	if selected := self.workspace.Scenes.Selected(); selected != nil && selected == node {
		self.diffEngine.Absorb("/"+syncVar.Property, syncVar.Value)
	}
}

// Sends the current value of a node property to a peer, or to every peer.
func (self *Synchronizer) SyncVar(nodePath string, property string, target PeerId) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.workspace.Scenes == nil || self.workspace.Scenes.EditedSceneRoot() == nil {
		return ErrNoEditedScene
	}
	node := self.workspace.Scenes.EditedSceneRoot().GetNode(nodePath)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodePath)
	}
	value, ok := node.GetProperty(property)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, property)
	}
	self.send(target, &SyncVar{
		Path:     nodePath,
		Property: property,
		Value:    value,
	})
	return nil
}

func (self *Synchronizer) noteRemoteFileChange(path string) {
	self.remoteFileEchoes[path] = time.Now()
}

func (self *Synchronizer) noteRemoteSceneChange(key string) {
	self.remoteSceneEchoes[key] = time.Now()
}

func consumeEcho(echoes map[string]time.Time, key string, window time.Duration) bool {
	noted, ok := echoes[key]
	if !ok {
		return false
	}
	delete(echoes, key)
	return time.Since(noted) <= window
}

func (self *Synchronizer) expireEchoes() {
	for _, echoes := range []map[string]time.Time{self.remoteFileEchoes, self.remoteSceneEchoes} {
		for key, noted := range echoes {
			if self.settings.RemoteEchoWindow < time.Since(noted) {
				delete(echoes, key)
			}
		}
	}
}

type SyncStatus struct {
	LocalPeerId      PeerId                `json:"local_peer_id"`
	Enabled          bool                  `json:"enabled"`
	IsLobbyOwner     bool                  `json:"is_lobby_owner"`
	Session          *LobbySession         `json:"session"`
	Peers            []*PeerRecord         `json:"peers"`
	Ownership        map[string]*Ownership `json:"ownership"`
	ConflictingPaths []string              `json:"conflicting_paths"`
}

func (self *Synchronizer) Status() *SyncStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return &SyncStatus{
		LocalPeerId:      self.LocalPeerId(),
		Enabled:          self.enabled,
		IsLobbyOwner:     self.enabled && self.isLobbyOwner(),
		Session:          self.session.copy(),
		Peers:            self.registry.Records(),
		Ownership:        self.registry.OwnershipOf(),
		ConflictingPaths: self.registry.ConflictingPaths(),
	}
}

// Inbound messages and remote calls run inside the tick, with the state lock held.
type syncInbound struct {
	synchronizer *Synchronizer
}

func (self *syncInbound) HandleHandshake(sender PeerId, handshake *Handshake) {
	self.synchronizer.handleHandshake(sender, handshake)
}

func (self *syncInbound) HandleSetUserData(sender PeerId, setUserData *SetUserData) {
	self.synchronizer.handleSetUserData(sender, setUserData)
}

func (self *syncInbound) HandleSyncUserData(sender PeerId, syncUserData *SyncUserData) {
	self.synchronizer.handleSyncUserData(sender, syncUserData)
}

func (self *syncInbound) HandleSyncVar(sender PeerId, syncVar *SyncVar) {
	self.synchronizer.handleSyncVar(sender, syncVar)
}

func (self *syncInbound) LocalPeerId() PeerId {
	return self.synchronizer.LocalPeerId()
}

func (self *syncInbound) IsLobbyOwner() bool {
	return self.synchronizer.isLobbyOwner()
}

func (self *syncInbound) SendCall(target PeerId, call RemoteCall) {
	self.synchronizer.sendCall(target, call)
}

func (self *syncInbound) SetLocalMetadata(key string, value any) {
	self.synchronizer.setLocalMetadata(key, value)
}

func (self *syncInbound) NoteRemoteFileChange(path string) {
	self.synchronizer.noteRemoteFileChange(path)
}

func (self *syncInbound) NoteRemoteSceneChange(key string) {
	self.synchronizer.noteRemoteSceneChange(key)
}

func (self *syncInbound) NoteRemoteLiveText(text string) {
	self.synchronizer.lastLiveText = text
}
