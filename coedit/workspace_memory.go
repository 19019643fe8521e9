package coedit

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// An in-memory editor: files, one script editor and one scene tree.
// Used by embedders that keep their own document model, and in tests.

type MemoryFiles struct {
	stateLock   sync.Mutex
	files       map[string]string
	rescanCount int
}

func NewMemoryFiles(files map[string]string) *MemoryFiles {
	memoryFiles := &MemoryFiles{
		files: map[string]string{},
	}
	for filePath, contents := range files {
		memoryFiles.files[filePath] = contents
	}
	return memoryFiles
}

func (self *MemoryFiles) ListFiles() ([]string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	paths := make([]string, 0, len(self.files))
	for filePath := range self.files {
		paths = append(paths, filePath)
	}
	slices.Sort(paths)
	return paths, nil
}

func (self *MemoryFiles) ReadFile(filePath string) (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	contents, ok := self.files[filePath]
	if !ok {
		return "", fmt.Errorf("%w: %s", fs.ErrNotExist, filePath)
	}
	return contents, nil
}

func (self *MemoryFiles) WriteFile(filePath string, contents string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.files[filePath] = contents
	return nil
}

func (self *MemoryFiles) DeleteFile(filePath string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if _, ok := self.files[filePath]; !ok {
		return fmt.Errorf("%w: %s", fs.ErrNotExist, filePath)
	}
	delete(self.files, filePath)
	return nil
}

func (self *MemoryFiles) RenameFile(from string, to string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	contents, ok := self.files[from]
	if !ok {
		return fmt.Errorf("%w: %s", fs.ErrNotExist, from)
	}
	delete(self.files, from)
	self.files[to] = contents
	return nil
}

func (self *MemoryFiles) FileExists(filePath string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	_, ok := self.files[filePath]
	return ok
}

func (self *MemoryFiles) FileSize(filePath string) (int64, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	contents, ok := self.files[filePath]
	if !ok {
		return 0, fmt.Errorf("%w: %s", fs.ErrNotExist, filePath)
	}
	return int64(len(contents)), nil
}

func (self *MemoryFiles) Rescan() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.rescanCount += 1
}

func (self *MemoryFiles) RescanCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.rescanCount
}

type MemoryPointer struct {
	local  *PointerPosition
	remote map[PeerId]PointerPosition
}

func NewMemoryPointer() *MemoryPointer {
	return &MemoryPointer{
		remote: map[PeerId]PointerPosition{},
	}
}

func (self *MemoryPointer) Move(x float64, y float64) {
	self.local = &PointerPosition{X: x, Y: y}
}

func (self *MemoryPointer) LocalPointer() (PointerPosition, bool) {
	if self.local == nil {
		return PointerPosition{}, false
	}
	return *self.local, true
}

func (self *MemoryPointer) SetRemotePointers(pointers map[PeerId]PointerPosition) {
	self.remote = pointers
}

func (self *MemoryPointer) RemotePointers() map[PeerId]PointerPosition {
	return self.remote
}

type MemoryScriptEditor struct {
	files *MemoryFiles

	scriptPath     string
	source         string
	liveText       string
	reloadCount    int
	remotelyEdited []string
}

func NewMemoryScriptEditor(files *MemoryFiles) *MemoryScriptEditor {
	return &MemoryScriptEditor{
		files:          files,
		remotelyEdited: []string{},
	}
}

// opens the script from the files
func (self *MemoryScriptEditor) Open(scriptPath string) error {
	source, err := self.files.ReadFile(scriptPath)
	if err != nil {
		return err
	}
	self.scriptPath = scriptPath
	self.source = source
	self.liveText = source
	return nil
}

// types and saves
func (self *MemoryScriptEditor) Save(source string) error {
	if self.scriptPath == "" {
		return fmt.Errorf("No open script.")
	}
	self.source = source
	self.liveText = source
	return self.files.WriteFile(self.scriptPath, source)
}

// types without saving
func (self *MemoryScriptEditor) Type(text string) {
	self.liveText = text
}

func (self *MemoryScriptEditor) CurrentScript() (string, string, bool) {
	if self.scriptPath == "" {
		return "", "", false
	}
	return self.scriptPath, self.source, true
}

func (self *MemoryScriptEditor) LiveText() (string, bool) {
	if self.scriptPath == "" {
		return "", false
	}
	return self.liveText, true
}

func (self *MemoryScriptEditor) SetLiveText(text string) {
	self.liveText = text
}

func (self *MemoryScriptEditor) ReloadScripts() {
	self.reloadCount += 1
	if self.scriptPath == "" {
		return
	}
	if source, err := self.files.ReadFile(self.scriptPath); err == nil {
		self.source = source
		self.liveText = source
	}
}

func (self *MemoryScriptEditor) ReloadCount() int {
	return self.reloadCount
}

func (self *MemoryScriptEditor) SetRemotelyEdited(paths []string) {
	self.remotelyEdited = slices.Clone(paths)
}

func (self *MemoryScriptEditor) RemotelyEdited() []string {
	return slices.Clone(self.remotelyEdited)
}

type ClassTemplate struct {
	Properties []PropertyInfo
	Defaults   map[string]any
}

// instantiable classes by name
type ClassRegistry struct {
	templates map[string]*ClassTemplate
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		templates: map[string]*ClassTemplate{},
	}
}

func (self *ClassRegistry) Register(className string, template *ClassTemplate) {
	self.templates[className] = template
}

func (self *ClassRegistry) NewObject(className string) (*MemoryObject, error) {
	template, ok := self.templates[className]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	object := NewMemoryObject(className)
	for _, info := range template.Properties {
		object.DefineProperty(info.Name, info.Kind, CopyValue(template.Defaults[info.Name]))
	}
	return object, nil
}

type MemoryObject struct {
	className string
	infos     []PropertyInfo
	values    map[string]any
}

func NewMemoryObject(className string) *MemoryObject {
	return &MemoryObject{
		className: className,
		infos:     []PropertyInfo{},
		values:    map[string]any{},
	}
}

func (self *MemoryObject) DefineProperty(name string, kind PropertyKind, value any) {
	for i, info := range self.infos {
		if info.Name == name {
			self.infos[i].Kind = kind
			self.values[name] = value
			return
		}
	}
	self.infos = append(self.infos, PropertyInfo{Name: name, Kind: kind})
	self.values[name] = value
}

func (self *MemoryObject) ClassName() string {
	return self.className
}

func (self *MemoryObject) PropertyList() []PropertyInfo {
	return slices.Clone(self.infos)
}

func (self *MemoryObject) GetProperty(name string) (any, bool) {
	value, ok := self.values[name]
	if !ok {
		return nil, false
	}
	if object, ok := value.(*MemoryObject); ok && object == nil {
		return nil, true
	}
	return value, true
}

func (self *MemoryObject) SetProperty(name string, value any) error {
	kind := propertyKindOf(self, name)
	switch kind {
	case PropertyKindNil:
		return fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, self.className, name)
	case PropertyKindObject:
		if value == nil {
			self.values[name] = nil
			return nil
		}
		if _, ok := value.(PropertyObject); !ok {
			return fmt.Errorf("Property %s.%s holds an object, not %T", self.className, name, value)
		}
	}
	self.values[name] = CopyValue(value)
	return nil
}

type MemoryNode struct {
	*MemoryObject
	name     string
	parent   *MemoryNode
	children []*MemoryNode
}

func NewMemoryNode(name string, object *MemoryObject) *MemoryNode {
	return &MemoryNode{
		MemoryObject: object,
		name:         name,
		children:     []*MemoryNode{},
	}
}

func (self *MemoryNode) PropertyList() []PropertyInfo {
	infos := []PropertyInfo{
		{Name: "name", Kind: PropertyKindValue},
		{Name: "owner", Kind: PropertyKindObject},
	}
	return append(infos, self.MemoryObject.PropertyList()...)
}

func (self *MemoryNode) GetProperty(name string) (any, bool) {
	switch name {
	case "name":
		return self.name, true
	case "owner":
		if self.parent == nil {
			return nil, true
		}
		return self.root(), true
	default:
		return self.MemoryObject.GetProperty(name)
	}
}

func (self *MemoryNode) SetProperty(name string, value any) error {
	switch name {
	case "name":
		newName, ok := value.(string)
		if !ok || newName == "" {
			return fmt.Errorf("Bad node name %v", value)
		}
		self.name = newName
		return nil
	case "owner":
		return nil
	default:
		return self.MemoryObject.SetProperty(name, value)
	}
}

func (self *MemoryNode) root() *MemoryNode {
	node := self
	for node.parent != nil {
		node = node.parent
	}
	return node
}

func (self *MemoryNode) Name() string {
	return self.name
}

func (self *MemoryNode) Parent() SceneNode {
	if self.parent == nil {
		return nil
	}
	return self.parent
}

func (self *MemoryNode) Children() []SceneNode {
	children := make([]SceneNode, 0, len(self.children))
	for _, child := range self.children {
		children = append(children, child)
	}
	return children
}

func (self *MemoryNode) child(name string) *MemoryNode {
	for _, child := range self.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

func (self *MemoryNode) GetNode(nodePath string) SceneNode {
	node := self
	for _, segment := range strings.Split(nodePath, "/") {
		switch segment {
		case "", ".":
		case "..":
			if node.parent == nil {
				return nil
			}
			node = node.parent
		default:
			node = node.child(segment)
			if node == nil {
				return nil
			}
		}
	}
	return node
}

func (self *MemoryNode) PathTo(target SceneNode) string {
	memoryTarget, ok := target.(*MemoryNode)
	if !ok || memoryTarget == nil {
		return ""
	}
	segments := []string{}
	for node := memoryTarget; node != self; node = node.parent {
		if node == nil {
			return ""
		}
		segments = append(segments, node.name)
	}
	if len(segments) == 0 {
		return "."
	}
	slices.Reverse(segments)
	return strings.Join(segments, "/")
}

func (self *MemoryNode) AddChild(child *MemoryNode, index int) {
	if child.parent != nil {
		child.detach()
	}
	child.name = self.uniqueChildName(child.name)
	child.parent = self
	if index < 0 || len(self.children) < index {
		index = len(self.children)
	}
	self.children = slices.Insert(self.children, index, child)
}

func (self *MemoryNode) uniqueChildName(name string) string {
	if self.child(name) == nil {
		return name
	}
	for i := 2; ; i += 1 {
		candidate := fmt.Sprintf("%s%d", name, i)
		if self.child(candidate) == nil {
			return candidate
		}
	}
}

func (self *MemoryNode) detach() {
	if self.parent == nil {
		return
	}
	if i := slices.Index(self.parent.children, self); 0 <= i {
		self.parent.children = slices.Delete(self.parent.children, i, i+1)
	}
	self.parent = nil
}

func (self *MemoryNode) Reparent(newParent SceneNode, index int) error {
	memoryParent, ok := newParent.(*MemoryNode)
	if !ok || memoryParent == nil {
		return fmt.Errorf("%w: bad parent", ErrNodeNotFound)
	}
	for node := memoryParent; node != nil; node = node.parent {
		if node == self {
			return fmt.Errorf("Cannot reparent %s under itself.", self.name)
		}
	}
	memoryParent.AddChild(self, index)
	return nil
}

func (self *MemoryNode) Free() {
	self.detach()
}

type MemoryScene struct {
	files   *MemoryFiles
	classes *ClassRegistry

	scenePath   string
	root        *MemoryNode
	selected    *MemoryNode
	reloadCount int
}

func NewMemoryScene(files *MemoryFiles, classes *ClassRegistry) *MemoryScene {
	return &MemoryScene{
		files:   files,
		classes: classes,
	}
}

func (self *MemoryScene) Open(scenePath string, root *MemoryNode) {
	self.scenePath = scenePath
	self.root = root
	self.selected = nil
}

func (self *MemoryScene) Select(node *MemoryNode) {
	self.selected = node
}

func (self *MemoryScene) EditedScenePath() string {
	return self.scenePath
}

func (self *MemoryScene) EditedSceneRoot() SceneNode {
	if self.root == nil {
		return nil
	}
	return self.root
}

func (self *MemoryScene) Selected() SceneNode {
	if self.selected == nil {
		return nil
	}
	return self.selected
}

func (self *MemoryScene) Root() *MemoryNode {
	return self.root
}

func (self *MemoryScene) ReloadScene(scenePath string) {
	if scenePath == self.scenePath {
		self.reloadCount += 1
	}
}

func (self *MemoryScene) ReloadCount() int {
	return self.reloadCount
}

func (self *MemoryScene) NewObject(className string) (PropertyObject, error) {
	return self.classes.NewObject(className)
}

func (self *MemoryScene) CreateNode(parent SceneNode, typeName string, isCustomType bool, customBase string) (SceneNode, error) {
	memoryParent, ok := parent.(*MemoryNode)
	if !ok || memoryParent == nil {
		return nil, fmt.Errorf("%w: bad parent", ErrNodeNotFound)
	}
	className := typeName
	if isCustomType {
		className = customBase
	}
	object, err := self.classes.NewObject(className)
	if err != nil {
		return nil, err
	}
	if isCustomType {
		object.className = typeName
	}
	node := NewMemoryNode(typeName, object)
	memoryParent.AddChild(node, -1)
	return node, nil
}

func (self *MemoryScene) InstantiateScene(parent SceneNode, scenePath string, index int) (SceneNode, error) {
	memoryParent, ok := parent.(*MemoryNode)
	if !ok || memoryParent == nil {
		return nil, fmt.Errorf("%w: bad parent", ErrNodeNotFound)
	}
	if !self.files.FileExists(scenePath) {
		return nil, fmt.Errorf("Missing scene %s", scenePath)
	}
	name := strings.TrimSuffix(path.Base(scenePath), path.Ext(scenePath))
	node := NewMemoryNode(name, NewMemoryObject("Node"))
	memoryParent.AddChild(node, index)
	return node, nil
}
