package coedit

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

type sentCall struct {
	target PeerId
	call   RemoteCall
}

type testExecutorHost struct {
	localPeerId  PeerId
	registry     *PeerRegistry
	isOwner      bool
	sent         []sentCall
	fileEchoes   []string
	sceneEchoes  []string
	liveTextEcho string
}

func (self *testExecutorHost) LocalPeerId() PeerId {
	return self.localPeerId
}

func (self *testExecutorHost) IsLobbyOwner() bool {
	return self.isOwner
}

func (self *testExecutorHost) SendCall(target PeerId, call RemoteCall) {
	self.sent = append(self.sent, sentCall{target: target, call: call})
}

func (self *testExecutorHost) SetLocalMetadata(key string, value any) {
	self.registry.UpsertMetadata(self.localPeerId, key, value)
}

func (self *testExecutorHost) NoteRemoteFileChange(path string) {
	self.fileEchoes = append(self.fileEchoes, path)
}

func (self *testExecutorHost) NoteRemoteSceneChange(key string) {
	self.sceneEchoes = append(self.sceneEchoes, key)
}

func (self *testExecutorHost) NoteRemoteLiveText(text string) {
	self.liveTextEcho = text
}

type executorTest struct {
	host     *testExecutorHost
	registry *PeerRegistry
	files    *MemoryFiles
	scripts  *MemoryScriptEditor
	scenes   *MemoryScene
	classes  *ClassRegistry
	executor *RemoteExecutor
}

func newExecutorTest(files map[string]string) *executorTest {
	localPeerId := NewPeerId()
	registry := NewPeerRegistry(localPeerId, "local")
	host := &testExecutorHost{
		localPeerId: localPeerId,
		registry:    registry,
	}
	memoryFiles := NewMemoryFiles(files)
	classes := testClasses()
	scripts := NewMemoryScriptEditor(memoryFiles)
	scenes := NewMemoryScene(memoryFiles, classes)
	workspace := &Workspace{
		Files:   memoryFiles,
		Scripts: scripts,
		Scenes:  scenes,
	}
	return &executorTest{
		host:     host,
		registry: registry,
		files:    memoryFiles,
		scripts:  scripts,
		scenes:   scenes,
		classes:  classes,
		executor: NewRemoteExecutor(host, workspace, registry, NewDiffEngine(), DefaultExecutorSettings()),
	}
}

func TestCompareFileLists(t *testing.T) {
	missing, excess := CompareFileLists(
		[]string{"res://a.gd", "res://b.gd", "res://local.gd"},
		[]string{"res://b.gd", "res://a.gd", "res://remote.gd"},
	)
	assert.Equal(t, missing, []string{"res://remote.gd"})
	assert.Equal(t, excess, []string{"res://local.gd"})

	missing, excess = CompareFileLists([]string{}, []string{})
	assert.Equal(t, missing, []string{})
	assert.Equal(t, excess, []string{})
}

func TestExecutorCompareFilesystem(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://a.gd":     "a",
		"res://local.gd": "local",
	})
	hostId := NewPeerId()

	err := test.executor.ApplyCall(hostId, &CompareFilesystem{
		PathList: []string{"res://a.gd", "res://b.gd"},
		HostId:   hostId,
	})
	assert.Equal(t, err, nil)

	paths, _ := test.files.ListFiles()
	assert.Equal(t, paths, []string{"res://a.gd", "res://b.gd"})
	// missing files are created empty until the contents arrive
	contents, _ := test.files.ReadFile("res://b.gd")
	assert.Equal(t, contents, "")
	assert.Equal(t, test.host.fileEchoes, []string{"res://b.gd", "res://local.gd"})
	assert.Equal(t, test.host.sent, []sentCall{
		{target: hostId, call: &RequestFileContents{ClientId: test.host.localPeerId}},
	})
}

func TestExecutorRequestFileContents(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://a.gd":   "a",
		"res://big.gd": strings.Repeat("x", DefaultPacketSizeLimit),
	})
	clientId := NewPeerId()

	err := test.executor.ApplyCall(clientId, &RequestFileContents{ClientId: clientId})
	assert.Equal(t, errors.Is(err, ErrNotLobbyOwner), true)
	assert.Equal(t, len(test.host.sent), 0)

	test.host.isOwner = true
	err = test.executor.ApplyCall(clientId, &RequestFileContents{ClientId: clientId})
	assert.Equal(t, err, nil)
	// files at the size limit are skipped
	assert.Equal(t, test.host.sent, []sentCall{
		{target: clientId, call: &ReceiveFileContents{Path: "res://a.gd", Contents: "a"}},
	})
}

func TestExecutorUpdateScriptDifferent(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://a.gd": "old",
	})
	sender := NewPeerId()
	localPeerId := test.host.localPeerId

	err := test.executor.ApplyCall(sender, &UpdateScriptDifferent{Path: "res://a.gd", Code: "new"})
	assert.Equal(t, err, nil)
	contents, _ := test.files.ReadFile("res://a.gd")
	assert.Equal(t, contents, "new")
	assert.Equal(t, test.scripts.ReloadCount(), 1)
	// an overwrite is never reported by the watcher, so it leaves no echo
	assert.Equal(t, len(test.host.fileEchoes), 0)

	// identical content is a no-op
	err = test.executor.ApplyCall(sender, &UpdateScriptDifferent{Path: "res://a.gd", Code: "new"})
	assert.Equal(t, err, nil)
	assert.Equal(t, test.scripts.ReloadCount(), 1)

	// rejected while the path is being edited here
	test.registry.UpsertMetadata(localPeerId, KeyEditorTabIndex, int64(MainScreenScriptEditor))
	test.registry.UpsertMetadata(localPeerId, KeyCurrentScriptPath, "res://a.gd")
	err = test.executor.ApplyCall(sender, &UpdateScriptDifferent{Path: "res://a.gd", Code: "other"})
	assert.Equal(t, errors.Is(err, ErrEditingScript), true)
	contents, _ = test.files.ReadFile("res://a.gd")
	assert.Equal(t, contents, "new")

	// the same path in another tab is not being edited
	test.registry.UpsertMetadata(localPeerId, KeyEditorTabIndex, int64(MainScreen2d))
	err = test.executor.ApplyCall(sender, &UpdateScriptDifferent{Path: "res://a.gd", Code: "other"})
	assert.Equal(t, err, nil)
	contents, _ = test.files.ReadFile("res://a.gd")
	assert.Equal(t, contents, "other")
}

func TestExecutorUpdateScriptSame(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://a.gd": "saved",
	})
	owner := NewPeerId()
	test.registry.MarkHandshakeCompleted(owner)
	test.registry.UpsertMetadata(owner, KeyCurrentScriptPath, "res://a.gd")

	// not spectating
	err := test.executor.ApplyCall(owner, &UpdateScriptSame{From: owner, Contents: "typing"})
	assert.NotEqual(t, err, nil)

	test.scripts.Open("res://a.gd")
	test.registry.UpsertMetadata(test.host.localPeerId, KeyCurrentSpectatingScript, "res://a.gd")
	err = test.executor.ApplyCall(owner, &UpdateScriptSame{From: owner, Contents: "typing"})
	assert.Equal(t, err, nil)
	liveText, _ := test.scripts.LiveText()
	assert.Equal(t, liveText, "typing")
	assert.Equal(t, test.host.liveTextEcho, "typing")
}

func TestExecutorFiles(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://a.gd": "a",
	})
	sender := NewPeerId()

	err := test.executor.ApplyCall(sender, &RenameFile{From: "res://a.gd", To: "res://b.gd"})
	assert.Equal(t, err, nil)
	assert.Equal(t, test.files.FileExists("res://a.gd"), false)
	contents, _ := test.files.ReadFile("res://b.gd")
	assert.Equal(t, contents, "a")

	err = test.executor.ApplyCall(sender, &RenameFile{From: "res://a.gd", To: "res://c.gd"})
	assert.NotEqual(t, err, nil)

	err = test.executor.ApplyCall(sender, &ReceiveFileContents{Path: "res://c.gd", Contents: "c"})
	assert.Equal(t, err, nil)
	contents, _ = test.files.ReadFile("res://c.gd")
	assert.Equal(t, contents, "c")

	err = test.executor.ApplyCall(sender, &DeleteFile{Path: "res://b.gd"})
	assert.Equal(t, err, nil)
	assert.Equal(t, test.files.FileExists("res://b.gd"), false)
	// already gone
	err = test.executor.ApplyCall(sender, &DeleteFile{Path: "res://b.gd"})
	assert.Equal(t, err, nil)

	assert.Equal(t, test.host.fileEchoes, []string{"res://a.gd", "res://b.gd", "res://c.gd", "res://b.gd"})
}

func TestExecutorSetAsScriptOwner(t *testing.T) {
	test := newExecutorTest(map[string]string{})
	localPeerId := test.host.localPeerId
	test.registry.UpsertMetadata(localPeerId, KeyCurrentSpectatingScript, "res://a.gd")

	err := test.executor.ApplyCall(NewPeerId(), &SetAsScriptOwner{Path: "res://a.gd"})
	assert.Equal(t, err, nil)
	path, _ := test.registry.GetString(localPeerId, KeyCurrentScriptPath)
	assert.Equal(t, path, "res://a.gd")
	spectating, _ := test.registry.GetString(localPeerId, KeyCurrentSpectatingScript)
	assert.Equal(t, spectating, "")
}

func TestExecutorSetMousePosition(t *testing.T) {
	test := newExecutorTest(map[string]string{})
	sender := NewPeerId()

	err := test.executor.ApplyCall(sender, &SetMousePosition{Sender: sender, Position: PointerPosition{X: 1, Y: 2}})
	assert.Equal(t, errors.Is(err, ErrUnknownPeer), true)

	test.registry.MarkHandshakeCompleted(sender)
	err = test.executor.ApplyCall(sender, &SetMousePosition{Sender: sender, Position: PointerPosition{X: 1, Y: 2}})
	assert.Equal(t, err, nil)
	assert.Equal(t, test.registry.RemotePointers(), map[PeerId]PointerPosition{
		sender: {X: 1, Y: 2},
	})

	// a peer only reports its own pointer
	err = test.executor.ApplyCall(sender, &SetMousePosition{Sender: NewPeerId(), Position: PointerPosition{X: 3, Y: 4}})
	assert.Equal(t, errors.Is(err, ErrSenderMismatch), true)
	err = test.executor.ApplyCall(sender, &SetMousePosition{Sender: test.host.localPeerId, Position: PointerPosition{X: 3, Y: 4}})
	assert.Equal(t, errors.Is(err, ErrSenderMismatch), true)
	assert.Equal(t, test.registry.RemotePointers()[sender], PointerPosition{X: 1, Y: 2})
	assert.Equal(t, len(test.host.sent), 0)
}

func TestExecutorSceneCalls(t *testing.T) {
	test := newExecutorTest(map[string]string{
		"res://enemy.tscn": "",
	})
	sender := NewPeerId()

	// nothing is open
	err := test.executor.ApplyCall(sender, &DeleteNodes{Paths: []string{"A"}})
	assert.Equal(t, errors.Is(err, ErrNoEditedScene), true)

	root := testNode(t, test.classes, "Node2D", "World")
	a := testNode(t, test.classes, "Node2D", "A")
	b := testNode(t, test.classes, "CollisionShape2D", "B")
	root.AddChild(a, -1)
	root.AddChild(b, -1)
	test.scenes.Open("res://main.tscn", root)

	err = test.executor.ApplyCall(sender, &ApplyAction{NodePath: "A", PropertyPath: "/visible", Value: false})
	assert.Equal(t, err, nil)
	visible, _ := a.GetProperty("visible")
	assert.Equal(t, visible, false)

	err = test.executor.ApplyCall(sender, &ApplyAction{NodePath: "Missing", PropertyPath: "/visible", Value: false})
	assert.Equal(t, errors.Is(err, ErrNodeNotFound), true)

	// sub-object paths resolve through the object
	err = test.executor.ApplyCall(sender, &ApplyAction{NodePath: "B", PropertyPath: "/shape/radius", Value: 3.0})
	assert.NotEqual(t, err, nil)
	err = test.executor.ApplyCall(sender, &InstantiateResource{NodePath: "B", ResourcePath: "/shape", ClassName: "CircleShape2D"})
	assert.Equal(t, err, nil)
	err = test.executor.ApplyCall(sender, &ApplyAction{NodePath: "B", PropertyPath: "/shape/radius", Value: 3.0})
	assert.Equal(t, err, nil)
	shape, _ := b.GetProperty("shape")
	radius, _ := shape.(PropertyObject).GetProperty("radius")
	assert.Equal(t, radius, 3.0)

	err = test.executor.ApplyCall(sender, &ApplyAction{NodePath: "B", PropertyPath: "/shape", Value: nil})
	assert.Equal(t, err, nil)
	shape, _ = b.GetProperty("shape")
	assert.Equal(t, shape, nil)

	err = test.executor.ApplyCall(sender, &ReparentNodes{Paths: []string{"B"}, NewParentPath: "A", Index: -1})
	assert.Equal(t, err, nil)
	assert.Equal(t, root.PathTo(b), "A/B")

	err = test.executor.ApplyCall(sender, &CreateNode{ParentPath: "A", TypeName: "Enemy", IsCustomType: true, CustomBase: "Node2D"})
	assert.Equal(t, err, nil)
	enemy := root.GetNode("A/Enemy")
	assert.NotEqual(t, enemy, nil)
	assert.Equal(t, enemy.ClassName(), "Enemy")

	err = test.executor.ApplyCall(sender, &CreateNode{ParentPath: "A", TypeName: "Missing", IsCustomType: false})
	assert.Equal(t, errors.Is(err, ErrUnknownClass), true)

	err = test.executor.ApplyCall(sender, &InstantiateScenes{ParentPath: ".", Paths: []string{"res://enemy.tscn"}, Index: 0})
	assert.Equal(t, err, nil)
	assert.Equal(t, root.Children()[0].Name(), "enemy")

	err = test.executor.ApplyCall(sender, &DeleteNodes{Paths: []string{"A", "Missing", "."}})
	assert.Equal(t, err, nil)
	assert.Equal(t, root.GetNode("A"), nil)
	assert.Equal(t, len(root.Children()), 1)

	assert.Equal(t, test.host.sceneEchoes, []string{
		ReparentEchoKey([]string{"B"}, "A"),
		CreateNodeEchoKey("A", "Enemy"),
		CreateNodeEchoKey("A", "Missing"),
		InstantiateScenesEchoKey(".", []string{"res://enemy.tscn"}),
		DeleteNodesEchoKey([]string{"A", "Missing", "."}),
	})
}
