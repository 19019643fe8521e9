package coedit

import (
	"sync"

	"golang.org/x/exp/slices"
)

// well-known metadata keys
const (
	KeyEditorTabIndex          = "editor_tab_index"
	KeyCurrentScriptPath       = "current_script_path"
	KeyCurrentSpectatingScript = "current_spectating_script"
	KeyCurrentScenePath        = "current_scene_path"
	KeyScriptCurrentLine       = "script_current_line"
)

type HandshakeState int

const (
	HandshakePending HandshakeState = iota
	HandshakeCompleted
)

func (self HandshakeState) String() string {
	switch self {
	case HandshakeCompleted:
		return "completed"
	default:
		return "pending"
	}
}

func InitialMetadata() map[string]any {
	return map[string]any{
		KeyScriptCurrentLine:       int64(0),
		KeyEditorTabIndex:          int64(0),
		KeyCurrentScriptPath:       "",
		KeyCurrentSpectatingScript: "",
		KeyCurrentScenePath:        "",
	}
}

type PeerRecord struct {
	PeerId         PeerId         `json:"peer_id"`
	DisplayName    string         `json:"display_name"`
	HandshakeState HandshakeState `json:"handshake_state"`
	Metadata       map[string]any `json:"metadata"`
	// last pointer position the peer reported. Not part of the metadata snapshot.
	Pointer *PointerPosition `json:"pointer,omitempty"`
}

func (self *PeerRecord) copy() *PeerRecord {
	record := &PeerRecord{
		PeerId:         self.PeerId,
		DisplayName:    self.DisplayName,
		HandshakeState: self.HandshakeState,
		Metadata:       CopyValue(self.Metadata).(map[string]any),
	}
	if self.Pointer != nil {
		pointer := *self.Pointer
		record.Pointer = &pointer
	}
	return record
}

// Per-peer metadata as last reported by each peer, plus the local record.
// The registry never sends; callers broadcast local changes themselves.
type PeerRegistry struct {
	localPeerId PeerId

	stateLock sync.Mutex
	records   map[PeerId]*PeerRecord
}

func NewPeerRegistry(localPeerId PeerId, localDisplayName string) *PeerRegistry {
	registry := &PeerRegistry{
		localPeerId: localPeerId,
		records:     map[PeerId]*PeerRecord{},
	}
	registry.records[localPeerId] = &PeerRecord{
		PeerId:         localPeerId,
		DisplayName:    localDisplayName,
		HandshakeState: HandshakeCompleted,
		Metadata:       InitialMetadata(),
	}
	return registry
}

func (self *PeerRegistry) LocalPeerId() PeerId {
	return self.localPeerId
}

// must hold the state lock
func (self *PeerRegistry) ensureRecord(peerId PeerId) *PeerRecord {
	record, ok := self.records[peerId]
	if !ok {
		record = &PeerRecord{
			PeerId:         peerId,
			HandshakeState: HandshakePending,
			Metadata:       map[string]any{},
		}
		self.records[peerId] = record
	}
	return record
}

func (self *PeerRegistry) Has(peerId PeerId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	_, ok := self.records[peerId]
	return ok
}

// returns true the first time the handshake completes for the peer
func (self *PeerRegistry) MarkHandshakeCompleted(peerId PeerId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record := self.ensureRecord(peerId)
	if record.HandshakeState == HandshakeCompleted {
		return false
	}
	record.HandshakeState = HandshakeCompleted
	return true
}

func (self *PeerRegistry) HandshakeCompleted(peerId PeerId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.records[peerId]
	return ok && record.HandshakeState == HandshakeCompleted
}

func (self *PeerRegistry) SetDisplayName(peerId PeerId, displayName string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if record, ok := self.records[peerId]; ok {
		record.DisplayName = displayName
	}
}

func (self *PeerRegistry) DisplayName(peerId PeerId) string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if record, ok := self.records[peerId]; ok {
		return record.DisplayName
	}
	return ""
}

// keys are not validated. Unknown keys are kept.
func (self *PeerRegistry) UpsertMetadata(peerId PeerId, key string, value any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record := self.ensureRecord(peerId)
	record.Metadata[key] = CopyValue(value)
}

// `ok` is false when the peer or key is unknown, which is distinct from an empty value
func (self *PeerRegistry) GetMetadata(peerId PeerId, key string) (any, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.records[peerId]
	if !ok {
		return nil, false
	}
	value, ok := record.Metadata[key]
	if !ok {
		return nil, false
	}
	return CopyValue(value), true
}

func (self *PeerRegistry) GetString(peerId PeerId, key string) (string, bool) {
	value, ok := self.GetMetadata(peerId, key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func (self *PeerRegistry) GetInt(peerId PeerId, key string) (int, bool) {
	value, ok := self.GetMetadata(peerId, key)
	if !ok {
		return 0, false
	}
	n, ok := numericValue(value)
	return int(n), ok
}

func (self *PeerRegistry) SnapshotFor(peerId PeerId) map[string]any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.records[peerId]
	if !ok {
		return map[string]any{}
	}
	return CopyValue(record.Metadata).(map[string]any)
}

// replaces the peer's metadata wholesale
// false when the peer is unknown
func (self *PeerRegistry) SetPointer(peerId PeerId, position PointerPosition) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.records[peerId]
	if !ok {
		return false
	}
	record.Pointer = &position
	return true
}

// pointers of the remote peers with a completed handshake that have reported one
func (self *PeerRegistry) RemotePointers() map[PeerId]PointerPosition {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	pointers := map[PeerId]PointerPosition{}
	for peerId, record := range self.records {
		if peerId != self.localPeerId && record.HandshakeState == HandshakeCompleted && record.Pointer != nil {
			pointers[peerId] = *record.Pointer
		}
	}
	return pointers
}

func (self *PeerRegistry) LoadSnapshot(peerId PeerId, snapshot map[string]any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record := self.ensureRecord(peerId)
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	record.Metadata = CopyValue(snapshot).(map[string]any)
}

func (self *PeerRegistry) Remove(peerId PeerId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if peerId == self.localPeerId {
		return false
	}
	if _, ok := self.records[peerId]; !ok {
		return false
	}
	delete(self.records, peerId)
	return true
}

// sorted peer ids, including the local peer
func (self *PeerRegistry) Peers() []PeerId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	peerIds := make([]PeerId, 0, len(self.records))
	for peerId := range self.records {
		peerIds = append(peerIds, peerId)
	}
	slices.Sort(peerIds)
	return peerIds
}

// sorted remote peers with a completed handshake
func (self *PeerRegistry) CompletedPeers() []PeerId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	peerIds := []PeerId{}
	for peerId, record := range self.records {
		if peerId != self.localPeerId && record.HandshakeState == HandshakeCompleted {
			peerIds = append(peerIds, peerId)
		}
	}
	slices.Sort(peerIds)
	return peerIds
}

func (self *PeerRegistry) Records() []*PeerRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	records := make([]*PeerRecord, 0, len(self.records))
	for _, record := range self.records {
		records = append(records, record.copy())
	}
	slices.SortFunc(records, func(a *PeerRecord, b *PeerRecord) int {
		if a.PeerId < b.PeerId {
			return -1
		} else if b.PeerId < a.PeerId {
			return 1
		}
		return 0
	})
	return records
}

type Ownership struct {
	Owner      PeerId   `json:"owner"`
	Spectators []PeerId `json:"spectators"`
}

// Derived view of who owns and who watches each script path.
// A path listed by more than one peer as `current_script_path` would break
// single ownership; `ConflictingPaths` reports those.
func (self *PeerRegistry) OwnershipOf() map[string]*Ownership {
	owners := map[string]*Ownership{}
	get := func(path string) *Ownership {
		ownership, ok := owners[path]
		if !ok {
			ownership = &Ownership{Spectators: []PeerId{}}
			owners[path] = ownership
		}
		return ownership
	}
	for _, record := range self.Records() {
		if path, ok := record.Metadata[KeyCurrentScriptPath].(string); ok && path != "" {
			get(path).Owner = record.PeerId
		}
		if path, ok := record.Metadata[KeyCurrentSpectatingScript].(string); ok && path != "" {
			ownership := get(path)
			ownership.Spectators = append(ownership.Spectators, record.PeerId)
		}
	}
	return owners
}

func (self *PeerRegistry) ConflictingPaths() []string {
	counts := map[string]int{}
	for _, record := range self.Records() {
		if path, ok := record.Metadata[KeyCurrentScriptPath].(string); ok && path != "" {
			counts[path] += 1
		}
	}
	paths := []string{}
	for path, count := range counts {
		if 1 < count {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths
}
