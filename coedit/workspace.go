package coedit

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// The host editor, seen through the capabilities the sync protocol needs.
// Project files are addressed as `res://` paths. Scene nodes are addressed by
// paths relative to the edited scene root, "." being the root itself.

const ResPrefix = "res://"

var ErrNoEditedScene = errors.New("No edited scene.")
var ErrNodeNotFound = errors.New("Node not found.")
var ErrPropertyNotFound = errors.New("Property not found.")
var ErrUnknownClass = errors.New("Unknown class.")

// matches the editor main screen order
type MainScreen int

const (
	MainScreen2d           MainScreen = 0
	MainScreen3d           MainScreen = 1
	MainScreenScriptEditor MainScreen = 2
	MainScreenOther        MainScreen = 3
)

type PropertyKind int

const (
	// no value, e.g. a group or category entry
	PropertyKindNil PropertyKind = iota
	PropertyKindValue
	// holds a PropertyObject or nil
	PropertyKindObject
)

type PropertyInfo struct {
	Name string
	Kind PropertyKind
}

// Anything with an ordered, named property list. Implementations must be
// pointer types so identity comparison works.
type PropertyObject interface {
	ClassName() string
	PropertyList() []PropertyInfo
	GetProperty(name string) (any, bool)
	SetProperty(name string, value any) error
}

type SceneNode interface {
	PropertyObject
	Name() string
	Parent() SceneNode
	Children() []SceneNode
	// relative path, "." is the node itself
	GetNode(path string) SceneNode
	PathTo(node SceneNode) string
	Reparent(newParent SceneNode, index int) error
	Free()
}

type ProjectFiles interface {
	ListFiles() ([]string, error)
	ReadFile(path string) (string, error)
	WriteFile(path string, contents string) error
	DeleteFile(path string) error
	RenameFile(from string, to string) error
	FileExists(path string) bool
	FileSize(path string) (int64, error)
	// asks the host to pick up changed files
	Rescan()
}

type ScriptEditor interface {
	// the script open in the script editor and its saved source
	CurrentScript() (path string, source string, ok bool)
	// the unsaved text in the code editor
	LiveText() (string, bool)
	// replaces the code editor text, keeping the caret where it was
	SetLiveText(text string)
	ReloadScripts()
}

type SceneEditor interface {
	EditedScenePath() string
	// nil when no scene is open
	EditedSceneRoot() SceneNode
	// nil when nothing is selected
	Selected() SceneNode
	ReloadScene(path string)
	NewObject(className string) (PropertyObject, error)
	CreateNode(parent SceneNode, typeName string, isCustomType bool, customBase string) (SceneNode, error)
	InstantiateScene(parent SceneNode, scenePath string, index int) (SceneNode, error)
}

// optional, implemented by script editors that can label remotely edited scripts
type RemoteEditDecorator interface {
	SetRemotelyEdited(paths []string)
}

// optional. Reports the local pointer and draws the remote ones.
type PointerOverlay interface {
	LocalPointer() (PointerPosition, bool)
	SetRemotePointers(pointers map[PeerId]PointerPosition)
}

// Files is required. Scripts, Scenes and Pointer may be nil for a headless peer.
type Workspace struct {
	Files   ProjectFiles
	Scripts ScriptEditor
	Scenes  SceneEditor
	Pointer PointerOverlay
}

// the final extension without the dot, e.g. "gd" for "res://a/b.gd"
func FileExtension(filePath string) string {
	ext := path.Ext(filePath)
	return strings.TrimPrefix(ext, ".")
}

// resolves "a/b/c" through object-valued sub-properties.
// Returns the object holding the last segment and that segment name.
func ResolvePropertyPath(object PropertyObject, propertyPath string) (PropertyObject, string, error) {
	segments := strings.Split(strings.Trim(propertyPath, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, "", ErrPropertyNotFound
	}
	target := object
	for _, segment := range segments[:len(segments)-1] {
		value, ok := target.GetProperty(segment)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyPath)
		}
		child, ok := value.(PropertyObject)
		if !ok || child == nil {
			return nil, "", fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyPath)
		}
		target = child
	}
	return target, segments[len(segments)-1], nil
}

func propertyKindOf(object PropertyObject, name string) PropertyKind {
	for _, info := range object.PropertyList() {
		if info.Name == name {
			return info.Kind
		}
	}
	return PropertyKindNil
}
