package coedit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

var ErrNotLobbyOwner = errors.New("Not the lobby owner.")
var ErrEditingScript = errors.New("Script is being edited locally.")
var ErrSenderMismatch = errors.New("Call sent on behalf of another peer.")

// what the executor needs from the session that owns it
type executorHost interface {
	LocalPeerId() PeerId
	IsLobbyOwner() bool
	SendCall(target PeerId, call RemoteCall)
	// applies locally and broadcasts to every peer
	SetLocalMetadata(key string, value any)
	// the file change was made for a remote peer and should not be sent back
	NoteRemoteFileChange(path string)
	// the scene tree change was made for a remote peer and should not be sent back
	NoteRemoteSceneChange(key string)
	// the code editor text was set for a remote peer
	NoteRemoteLiveText(text string)
}

type ExecutorSettings struct {
	// files at or above this size are not served
	FileSizeLimit int64
	// extensions of files that are scenes, without the dot
	SceneExtensions []string
}

func DefaultExecutorSettings() *ExecutorSettings {
	return &ExecutorSettings{
		FileSizeLimit:   DefaultPacketSizeLimit,
		SceneExtensions: []string{"tscn"},
	}
}

// Applies remote calls to the local workspace.
type RemoteExecutor struct {
	host       executorHost
	workspace  *Workspace
	registry   *PeerRegistry
	diffEngine *DiffEngine
	settings   *ExecutorSettings
	log        LogFunction
}

func NewRemoteExecutor(
	host executorHost,
	workspace *Workspace,
	registry *PeerRegistry,
	diffEngine *DiffEngine,
	settings *ExecutorSettings,
) *RemoteExecutor {
	return &RemoteExecutor{
		host:       host,
		workspace:  workspace,
		registry:   registry,
		diffEngine: diffEngine,
		settings:   settings,
		log:        LogFn(LogLevelDebug, "[exec]"),
	}
}

func (self *RemoteExecutor) ApplyCall(sender PeerId, call RemoteCall) error {
	// arrives every tick from every peer
	if setMousePosition, ok := call.(*SetMousePosition); ok {
		return self.setMousePosition(sender, setMousePosition)
	}

	self.log("%s<- %s", sender, call.FunctionName())
	switch v := call.(type) {
	case *UpdateScriptDifferent:
		return self.updateScriptDifferent(v)
	case *UpdateScriptSame:
		return self.updateScriptSame(v)
	case *UpdateSceneDifferent:
		return self.updateSceneDifferent(v)
	case *CompareFilesystem:
		return self.compareFilesystem(v)
	case *RequestFileContents:
		return self.requestFileContents(v)
	case *ReceiveFileContents:
		return self.receiveFileContents(v)
	case *DeleteFile:
		return self.deleteFile(v)
	case *RenameFile:
		return self.renameFile(v)
	case *SetAsScriptOwner:
		return self.setAsScriptOwner(v)
	case *ApplyAction:
		return self.applyAction(v)
	case *InstantiateResource:
		return self.instantiateResource(v)
	case *ReparentNodes:
		return self.reparentNodes(v)
	case *CreateNode:
		return self.createNode(v)
	case *InstantiateScenes:
		return self.instantiateScenes(v)
	case *DeleteNodes:
		return self.deleteNodes(v)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, v)
	}
}

func (self *RemoteExecutor) isScene(path string) bool {
	return slices.Contains(self.settings.SceneExtensions, strings.ToLower(FileExtension(path)))
}

// writes unless the contents already match. Returns true if written.
func (self *RemoteExecutor) writeFile(path string, contents string) (bool, error) {
	files := self.workspace.Files
	exists := files.FileExists(path)
	if exists {
		if existing, err := files.ReadFile(path); err == nil && existing == contents {
			return false, nil
		}
	} else {
		// the watcher sees a create but never an overwrite
		self.host.NoteRemoteFileChange(path)
	}
	if err := files.WriteFile(path, contents); err != nil {
		return false, err
	}
	return true, nil
}

func (self *RemoteExecutor) reload(path string) {
	self.workspace.Files.Rescan()
	if self.workspace.Scripts != nil {
		self.workspace.Scripts.ReloadScripts()
	}
	if self.workspace.Scenes != nil && self.isScene(path) {
		self.workspace.Scenes.ReloadScene(path)
	}
}

func (self *RemoteExecutor) updateScriptDifferent(update *UpdateScriptDifferent) error {
	localPeerId := self.host.LocalPeerId()
	scriptPath, _ := self.registry.GetString(localPeerId, KeyCurrentScriptPath)
	tab, _ := self.registry.GetInt(localPeerId, KeyEditorTabIndex)
	if scriptPath == update.Path && MainScreen(tab) == MainScreenScriptEditor {
		return fmt.Errorf("%w: %s was sent as different", ErrEditingScript, update.Path)
	}
	written, err := self.writeFile(update.Path, update.Code)
	if err != nil {
		return err
	}
	if written {
		self.reload(update.Path)
	}
	return nil
}

func (self *RemoteExecutor) updateScriptSame(update *UpdateScriptSame) error {
	scripts := self.workspace.Scripts
	if scripts == nil {
		return nil
	}
	localPeerId := self.host.LocalPeerId()
	spectating, _ := self.registry.GetString(localPeerId, KeyCurrentSpectatingScript)
	ownerPath, ok := self.registry.GetString(update.From, KeyCurrentScriptPath)
	if !ok || spectating == "" || spectating != ownerPath {
		return fmt.Errorf("Not spectating the script of %s", update.From)
	}
	if path, _, ok := scripts.CurrentScript(); !ok || path != spectating {
		return fmt.Errorf("Spectated script %s is not open", spectating)
	}
	scripts.SetLiveText(update.Contents)
	self.host.NoteRemoteLiveText(update.Contents)
	return nil
}

func (self *RemoteExecutor) updateSceneDifferent(update *UpdateSceneDifferent) error {
	written, err := self.writeFile(update.Path, update.Data)
	if err != nil {
		return err
	}
	if written {
		self.workspace.Files.Rescan()
		if self.workspace.Scenes != nil {
			self.workspace.Scenes.ReloadScene(update.Path)
		}
	}
	return nil
}

// Reconciles the local listing against the host's: missing files are created
// empty, excess files removed. Contents are then requested from the host.
func (self *RemoteExecutor) compareFilesystem(compare *CompareFilesystem) error {
	files := self.workspace.Files
	localPaths, err := files.ListFiles()
	if err != nil {
		return err
	}
	missing, excess := CompareFileLists(localPaths, compare.PathList)
	for _, path := range missing {
		self.host.NoteRemoteFileChange(path)
		if err := files.WriteFile(path, ""); err != nil {
			glog.Warningf("[exec]create %s = %s\n", path, err)
		}
	}
	for _, path := range excess {
		self.host.NoteRemoteFileChange(path)
		if err := files.DeleteFile(path); err != nil {
			glog.Warningf("[exec]remove %s = %s\n", path, err)
		}
	}
	files.Rescan()
	glog.V(1).Infof("[exec]compare filesystem missing=%d excess=%d host=%s\n", len(missing), len(excess), compare.HostId)

	self.host.SendCall(compare.HostId, &RequestFileContents{
		ClientId: self.host.LocalPeerId(),
	})
	return nil
}

// missing = remote - local, excess = local - remote, both in listing order
func CompareFileLists(localPaths []string, remotePaths []string) (missing []string, excess []string) {
	local := map[string]bool{}
	for _, path := range localPaths {
		local[path] = true
	}
	remote := map[string]bool{}
	for _, path := range remotePaths {
		remote[path] = true
	}
	missing = []string{}
	for _, path := range remotePaths {
		if !local[path] {
			missing = append(missing, path)
		}
	}
	excess = []string{}
	for _, path := range localPaths {
		if !remote[path] {
			excess = append(excess, path)
		}
	}
	return
}

func (self *RemoteExecutor) requestFileContents(request *RequestFileContents) error {
	if !self.host.IsLobbyOwner() {
		return ErrNotLobbyOwner
	}
	files := self.workspace.Files
	paths, err := files.ListFiles()
	if err != nil {
		return err
	}
	for _, path := range paths {
		size, err := files.FileSize(path)
		if err != nil {
			glog.Warningf("[exec]size %s = %s\n", path, err)
			continue
		}
		if self.settings.FileSizeLimit <= size {
			glog.Warningf("[exec]skip %s, %d bytes is over the packet limit\n", path, size)
			continue
		}
		contents, err := files.ReadFile(path)
		if err != nil {
			glog.Warningf("[exec]read %s = %s\n", path, err)
			continue
		}
		self.host.SendCall(request.ClientId, &ReceiveFileContents{
			Path:     path,
			Contents: contents,
		})
	}
	return nil
}

func (self *RemoteExecutor) receiveFileContents(receive *ReceiveFileContents) error {
	written, err := self.writeFile(receive.Path, receive.Contents)
	if err != nil {
		return err
	}
	if written {
		self.reload(receive.Path)
	}
	return nil
}

func (self *RemoteExecutor) deleteFile(deleteFile *DeleteFile) error {
	files := self.workspace.Files
	if !files.FileExists(deleteFile.Path) {
		return nil
	}
	self.host.NoteRemoteFileChange(deleteFile.Path)
	if err := files.DeleteFile(deleteFile.Path); err != nil {
		return err
	}
	files.Rescan()
	return nil
}

func (self *RemoteExecutor) renameFile(rename *RenameFile) error {
	files := self.workspace.Files
	if !files.FileExists(rename.From) {
		return fmt.Errorf("Rename source %s does not exist", rename.From)
	}
	self.host.NoteRemoteFileChange(rename.From)
	self.host.NoteRemoteFileChange(rename.To)
	if err := files.RenameFile(rename.From, rename.To); err != nil {
		return err
	}
	files.Rescan()
	return nil
}

func (self *RemoteExecutor) setAsScriptOwner(setOwner *SetAsScriptOwner) error {
	self.host.SetLocalMetadata(KeyCurrentScriptPath, setOwner.Path)
	self.host.SetLocalMetadata(KeyCurrentSpectatingScript, "")
	return nil
}

func (self *RemoteExecutor) setMousePosition(sender PeerId, setMousePosition *SetMousePosition) error {
	if setMousePosition.Sender != sender {
		return fmt.Errorf("%w: %s for %s", ErrSenderMismatch, sender, setMousePosition.Sender)
	}
	if sender == self.host.LocalPeerId() || !self.registry.SetPointer(sender, setMousePosition.Position) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, sender)
	}
	return nil
}

func (self *RemoteExecutor) sceneRoot() (SceneNode, error) {
	if self.workspace.Scenes == nil {
		return nil, ErrNoEditedScene
	}
	root := self.workspace.Scenes.EditedSceneRoot()
	if root == nil {
		return nil, ErrNoEditedScene
	}
	return root, nil
}

func (self *RemoteExecutor) node(root SceneNode, nodePath string) (SceneNode, error) {
	node := root.GetNode(nodePath)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodePath)
	}
	return node, nil
}

func (self *RemoteExecutor) isSelected(node SceneNode) bool {
	selected := self.workspace.Scenes.Selected()
	return selected != nil && selected == node
}

func (self *RemoteExecutor) applyAction(action *ApplyAction) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	node, err := self.node(root, action.NodePath)
	if err != nil {
		return err
	}
	target, name, err := ResolvePropertyPath(node, action.PropertyPath)
	if err != nil {
		return err
	}
	value := action.Value
	if propertyKindOf(target, name) == PropertyKindObject {
		if value != nil && value != false {
			return fmt.Errorf("Cannot apply a %T to object property %s", value, action.PropertyPath)
		}
		value = nil
	}
	if err := target.SetProperty(name, value); err != nil {
		return err
	}
	if self.isSelected(node) {
		self.diffEngine.Absorb(action.PropertyPath, value)
	}
	return nil
}

func (self *RemoteExecutor) instantiateResource(instantiate *InstantiateResource) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	node, err := self.node(root, instantiate.NodePath)
	if err != nil {
		return err
	}
	target, name, err := ResolvePropertyPath(node, instantiate.ResourcePath)
	if err != nil {
		return err
	}
	object, err := self.workspace.Scenes.NewObject(instantiate.ClassName)
	if err != nil {
		return err
	}
	if err := target.SetProperty(name, object); err != nil {
		return err
	}
	if self.isSelected(node) {
		self.diffEngine.AbsorbObject(object, instantiate.ResourcePath)
	}
	return nil
}

func ReparentEchoKey(paths []string, newParentPath string) string {
	return fmt.Sprintf("reparent:%s:%s", newParentPath, strings.Join(paths, ","))
}

func CreateNodeEchoKey(parentPath string, typeName string) string {
	return fmt.Sprintf("create:%s:%s", parentPath, typeName)
}

func InstantiateScenesEchoKey(parentPath string, paths []string) string {
	return fmt.Sprintf("instantiate:%s:%s", parentPath, strings.Join(paths, ","))
}

func DeleteNodesEchoKey(paths []string) string {
	return fmt.Sprintf("delete:%s", strings.Join(paths, ","))
}

func (self *RemoteExecutor) reparentNodes(reparent *ReparentNodes) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	newParent, err := self.node(root, reparent.NewParentPath)
	if err != nil {
		return err
	}
	nodes := []SceneNode{}
	for _, nodePath := range reparent.Paths {
		node, err := self.node(root, nodePath)
		if err != nil {
			glog.Warningf("[exec]reparent skip = %s\n", err)
			continue
		}
		nodes = append(nodes, node)
	}
	self.host.NoteRemoteSceneChange(ReparentEchoKey(reparent.Paths, reparent.NewParentPath))
	for i, node := range nodes {
		index := reparent.Index
		if 0 <= index {
			index += i
		}
		if err := node.Reparent(newParent, index); err != nil {
			return err
		}
	}
	return nil
}

func (self *RemoteExecutor) createNode(create *CreateNode) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	parent, err := self.node(root, create.ParentPath)
	if err != nil {
		return err
	}
	self.host.NoteRemoteSceneChange(CreateNodeEchoKey(create.ParentPath, create.TypeName))
	_, err = self.workspace.Scenes.CreateNode(parent, create.TypeName, create.IsCustomType, create.CustomBase)
	return err
}

func (self *RemoteExecutor) instantiateScenes(instantiate *InstantiateScenes) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	parent, err := self.node(root, instantiate.ParentPath)
	if err != nil {
		return err
	}
	self.host.NoteRemoteSceneChange(InstantiateScenesEchoKey(instantiate.ParentPath, instantiate.Paths))
	for i, scenePath := range instantiate.Paths {
		index := instantiate.Index
		if 0 <= index {
			index += i
		}
		if _, err := self.workspace.Scenes.InstantiateScene(parent, scenePath, index); err != nil {
			return err
		}
	}
	return nil
}

func (self *RemoteExecutor) deleteNodes(deleteNodes *DeleteNodes) error {
	root, err := self.sceneRoot()
	if err != nil {
		return err
	}
	// resolve every path before the tree changes
	nodes := []SceneNode{}
	for _, nodePath := range deleteNodes.Paths {
		node, err := self.node(root, nodePath)
		if err != nil {
			glog.Warningf("[exec]delete skip = %s\n", err)
			continue
		}
		if node == root {
			glog.Warningf("[exec]delete skip scene root\n")
			continue
		}
		nodes = append(nodes, node)
	}
	self.host.NoteRemoteSceneChange(DeleteNodesEchoKey(deleteNodes.Paths))
	for _, node := range nodes {
		if self.isSelected(node) {
			self.diffEngine.Reset()
		}
		node.Free()
	}
	return nil
}
