package coedit

import (
	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// The local user switched the editor main screen.
// Entering the script editor drops any claim until the script path is reported.
func (self *Synchronizer) EditorTabChanged(tab MainScreen) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.setLocalMetadata(KeyEditorTabIndex, int64(tab))
	if tab == MainScreenScriptEditor {
		self.setLocalMetadata(KeyCurrentScriptPath, "")
		self.setLocalMetadata(KeyCurrentSpectatingScript, "")
	}
}

// The local user opened a script. The first peer to open a path owns it,
// later peers spectate. Leaving a path hands it to one of its spectators.
func (self *Synchronizer) ScriptPathChanged(path string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.scriptPathChanged(path)
}

func (self *Synchronizer) scriptPathChanged(path string) {
	oldPath := self.localString(KeyCurrentScriptPath)
	handedOff := false
	for _, peerId := range self.registry.CompletedPeers() {
		peerPath, _ := self.registry.GetString(peerId, KeyCurrentScriptPath)
		if path != "" && peerPath == path {
			glog.V(1).Infof("[sync]spectate %s owned by %s\n", path, peerId)
			self.setLocalMetadata(KeyCurrentScriptPath, "")
			self.setLocalMetadata(KeyCurrentSpectatingScript, path)
			if self.workspace.Scripts != nil {
				self.lastLiveText, _ = self.workspace.Scripts.LiveText()
			}
			return
		}
		if handedOff || oldPath == "" || oldPath == path {
			continue
		}
		if spectating, _ := self.registry.GetString(peerId, KeyCurrentSpectatingScript); spectating == oldPath {
			glog.V(1).Infof("[sync]hand %s to %s\n", oldPath, peerId)
			self.sendCall(peerId, &SetAsScriptOwner{
				Path: oldPath,
			})
			handedOff = true
		}
	}
	self.setLocalMetadata(KeyCurrentScriptPath, path)
	self.setLocalMetadata(KeyCurrentSpectatingScript, "")
}

// The local user moved the caret.
func (self *Synchronizer) ScriptLineChanged(line int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.setLocalMetadata(KeyScriptCurrentLine, int64(line))
}

// Saved script sources go to peers that are not looking at the same script.
func (self *Synchronizer) syncScripts() {
	path, source, ok := self.workspace.Scripts.CurrentScript()
	if !ok || source == self.lastScriptSource {
		return
	}
	self.lastScriptSource = source
	if self.localTab() != MainScreenScriptEditor {
		return
	}
	if self.localString(KeyCurrentSpectatingScript) == path {
		// the owner's save, reloaded here
		return
	}

	for _, peerId := range self.registry.CompletedPeers() {
		tab, _ := self.registry.GetInt(peerId, KeyEditorTabIndex)
		peerPath, _ := self.registry.GetString(peerId, KeyCurrentScriptPath)
		if MainScreen(tab) == MainScreenScriptEditor && peerPath == path {
			continue
		}
		self.sendCall(peerId, &UpdateScriptDifferent{
			Path: path,
			Code: source,
		})
	}
}

// Unsaved text goes from the owner to its spectators. Spectator edits are reverted.
func (self *Synchronizer) syncLiveEdits() {
	scripts := self.workspace.Scripts
	path, _, ok := scripts.CurrentScript()
	if !ok {
		return
	}
	liveText, ok := scripts.LiveText()
	if !ok || liveText == self.lastLiveText {
		return
	}
	if self.localTab() != MainScreenScriptEditor {
		self.lastLiveText = liveText
		return
	}

	if spectating := self.localString(KeyCurrentSpectatingScript); spectating != "" && spectating == path {
		glog.V(2).Infof("[sync]revert spectator edit of %s\n", path)
		scripts.SetLiveText(self.lastLiveText)
		return
	}
	self.lastLiveText = liveText

	if self.localString(KeyCurrentScriptPath) != path {
		return
	}
	completedPeers := self.registry.CompletedPeers()
	for _, peerId := range completedPeers {
		if peerPath, _ := self.registry.GetString(peerId, KeyCurrentScriptPath); peerPath == path {
			// both claimed the path in the same instant
			glog.Infof("[sync]%s also owns %s\n", peerId, path)
			self.scriptPathChanged(path)
			return
		}
	}
	for _, peerId := range completedPeers {
		if spectating, _ := self.registry.GetString(peerId, KeyCurrentSpectatingScript); spectating == path {
			self.sendCall(peerId, &UpdateScriptSame{
				From:     self.LocalPeerId(),
				Contents: liveText,
			})
		}
	}
}

// Saved scene files go to peers that have a different scene open.
// Switching scenes only records the new file.
func (self *Synchronizer) syncScene() {
	path := self.workspace.Scenes.EditedScenePath()
	if path == "" {
		return
	}
	if self.localString(KeyCurrentScenePath) != path {
		self.setLocalMetadata(KeyCurrentScenePath, path)
	}
	data, err := self.workspace.Files.ReadFile(path)
	if err != nil {
		glog.V(2).Infof("[sync]read scene %s error = %s\n", path, err)
		return
	}
	if path != self.lastScenePath {
		self.lastScenePath = path
		self.lastSceneData = data
		return
	}
	if data == self.lastSceneData {
		return
	}
	self.lastSceneData = data

	for _, peerId := range self.registry.CompletedPeers() {
		if peerScene, _ := self.registry.GetString(peerId, KeyCurrentScenePath); peerScene != path {
			self.sendCall(peerId, &UpdateSceneDifferent{
				Path: path,
				Data: data,
			})
		}
	}
}

// Property changes on the selected node go to peers on the same scene.
// New resources go to everyone.
func (self *Synchronizer) syncSelection() {
	scenes := self.workspace.Scenes
	root := scenes.EditedSceneRoot()
	selected := scenes.Selected()
	if root == nil || selected == nil {
		self.diffEngine.Reset()
		return
	}

	actions := self.diffEngine.Pass(selected, root.PathTo(selected))
	if len(actions) == 0 {
		return
	}
	scenePath := self.localString(KeyCurrentScenePath)
	completedPeers := self.registry.CompletedPeers()
	for _, action := range actions {
		call := action.RemoteCall()
		if action.Kind == DiffActionInstantiate {
			self.sendCall(BroadcastPeerId, call)
			continue
		}
		for _, peerId := range completedPeers {
			if peerScene, _ := self.registry.GetString(peerId, KeyCurrentScenePath); peerScene == scenePath {
				self.sendCall(peerId, call)
			}
		}
	}
}

func (self *Synchronizer) updateDecorations() {
	if self.workspace.Scripts == nil {
		return
	}
	decorator, ok := self.workspace.Scripts.(RemoteEditDecorator)
	if !ok {
		return
	}
	paths := []string{}
	for _, peerId := range self.registry.CompletedPeers() {
		if path, _ := self.registry.GetString(peerId, KeyCurrentScriptPath); path != "" {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if slices.Equal(paths, self.remotelyEdited) {
		return
	}
	self.remotelyEdited = paths
	decorator.SetRemotelyEdited(slices.Clone(paths))
}

func (self *Synchronizer) sceneEvent(echoKey string, call RemoteCall) {
	if consumeEcho(self.remoteSceneEchoes, echoKey, self.settings.RemoteEchoWindow) {
		glog.V(2).Infof("[sync]skip remote scene change %s\n", echoKey)
		return
	}
	self.sendCall(BroadcastPeerId, call)
}

// The local user moved nodes under a new parent.
func (self *Synchronizer) NodesReparented(paths []string, newParentPath string, index int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sceneEvent(ReparentEchoKey(paths, newParentPath), &ReparentNodes{
		Paths:         paths,
		NewParentPath: newParentPath,
		Index:         index,
	})
}

// The local user added a node. `customBase` is the engine class a custom type extends.
func (self *Synchronizer) NodeCreated(parentPath string, typeName string, isCustomType bool, customBase string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sceneEvent(CreateNodeEchoKey(parentPath, typeName), &CreateNode{
		ParentPath:   parentPath,
		TypeName:     typeName,
		IsCustomType: isCustomType,
		CustomBase:   customBase,
	})
}

func (self *Synchronizer) ScenesInstantiated(parentPath string, paths []string, index int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sceneEvent(InstantiateScenesEchoKey(parentPath, paths), &InstantiateScenes{
		ParentPath: parentPath,
		Paths:      paths,
		Index:      index,
	})
}

func (self *Synchronizer) NodesDeleted(paths []string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sceneEvent(DeleteNodesEchoKey(paths), &DeleteNodes{
		Paths: paths,
	})
}
