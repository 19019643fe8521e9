package coedit

import (
	"strings"

	"github.com/golang/glog"
)

type DiffActionKind int

const (
	// set a property value on the node
	DiffActionApply DiffActionKind = iota
	// create a fresh object of a class on an object-valued property
	DiffActionInstantiate
)

type DiffAction struct {
	Kind         DiffActionKind
	NodePath     string
	PropertyPath string
	Value        any
	ClassName    string
}

func (self *DiffAction) RemoteCall() RemoteCall {
	switch self.Kind {
	case DiffActionInstantiate:
		return &InstantiateResource{
			NodePath:     self.NodePath,
			ResourcePath: self.PropertyPath,
			ClassName:    self.ClassName,
		}
	default:
		return &ApplyAction{
			NodePath:     self.NodePath,
			PropertyPath: self.PropertyPath,
			Value:        self.Value,
		}
	}
}

// recorded for an object-valued property that currently holds an object
type linkedObject struct {
	className string
}

// recorded for an object-valued property with no object
const unsetObject = false

// Detects property changes on the selected node by comparing against a
// snapshot keyed by property path ("/name", "/shape/radius").
// The snapshot is rebuilt whenever the selection changes.
type DiffEngine struct {
	selected PropertyObject
	snapshot map[string]any
}

func NewDiffEngine() *DiffEngine {
	return &DiffEngine{
		snapshot: map[string]any{},
	}
}

func (self *DiffEngine) Reset() {
	self.selected = nil
	self.snapshot = map[string]any{}
}

func (self *DiffEngine) Selected() PropertyObject {
	return self.selected
}

func skipProperty(info PropertyInfo) bool {
	return info.Kind == PropertyKindNil || info.Name == "owner"
}

func childObject(value any) PropertyObject {
	if object, ok := value.(PropertyObject); ok && object != nil {
		return object
	}
	return nil
}

// records the whole subtree without emitting anything
func (self *DiffEngine) initiate(object PropertyObject, basePath string) {
	for _, info := range object.PropertyList() {
		if skipProperty(info) {
			continue
		}
		propertyPath := basePath + "/" + info.Name
		value, _ := object.GetProperty(info.Name)
		if info.Kind == PropertyKindObject {
			if child := childObject(value); child != nil {
				self.snapshot[propertyPath] = linkedObject{className: child.ClassName()}
				self.initiate(child, propertyPath)
			} else {
				self.snapshot[propertyPath] = unsetObject
			}
			continue
		}
		self.snapshot[propertyPath] = CopyValue(value)
	}
}

// One pass over the selection. The first pass after a selection change only
// records a baseline. `nodePath` addresses the selection relative to the scene root.
func (self *DiffEngine) Pass(selected PropertyObject, nodePath string) []*DiffAction {
	if selected == nil {
		self.Reset()
		return nil
	}
	if selected != self.selected {
		self.selected = selected
		self.snapshot = map[string]any{}
		self.initiate(selected, "")
		glog.V(2).Infof("[diff]baseline %s %d properties\n", nodePath, len(self.snapshot))
		return nil
	}

	actions := []*DiffAction{}
	self.walk(selected, &nodePath, "", &actions)
	return actions
}

func (self *DiffEngine) walk(object PropertyObject, nodePath *string, basePath string, actions *[]*DiffAction) {
	for _, info := range object.PropertyList() {
		if skipProperty(info) {
			continue
		}
		propertyPath := basePath + "/" + info.Name
		current, _ := object.GetProperty(info.Name)
		previous, ok := self.snapshot[propertyPath]

		if info.Kind == PropertyKindObject {
			child := childObject(current)
			switch {
			case !ok:
				if child != nil {
					self.snapshot[propertyPath] = linkedObject{className: child.ClassName()}
				} else {
					self.snapshot[propertyPath] = unsetObject
				}
			case child != nil && previous == unsetObject:
				self.snapshot[propertyPath] = linkedObject{className: child.ClassName()}
				self.initiate(child, propertyPath)
				*actions = append(*actions, &DiffAction{
					Kind:         DiffActionInstantiate,
					NodePath:     *nodePath,
					PropertyPath: propertyPath,
					ClassName:    child.ClassName(),
				})
			case child != nil:
				self.snapshot[propertyPath] = linkedObject{className: child.ClassName()}
				self.walk(child, nodePath, propertyPath, actions)
			case previous != unsetObject:
				// the object was cleared
				self.snapshot[propertyPath] = unsetObject
				*actions = append(*actions, &DiffAction{
					Kind:         DiffActionApply,
					NodePath:     *nodePath,
					PropertyPath: propertyPath,
					Value:        nil,
				})
			}
			continue
		}

		if !ok {
			// appeared since the baseline
			self.snapshot[propertyPath] = CopyValue(current)
			continue
		}
		if ValuesEqual(previous, current) {
			continue
		}
		self.snapshot[propertyPath] = CopyValue(current)

		actionNodePath := *nodePath
		if propertyPath == "/name" {
			// the remote still knows the node by its previous name
			if previousName, ok := previous.(string); ok {
				actionNodePath = renameLastSegment(*nodePath, previousName)
			}
			if currentName, ok := current.(string); ok {
				*nodePath = renameLastSegment(*nodePath, currentName)
			}
		}
		*actions = append(*actions, &DiffAction{
			Kind:         DiffActionApply,
			NodePath:     actionNodePath,
			PropertyPath: propertyPath,
			Value:        CopyValue(current),
		})
	}
}

func renameLastSegment(nodePath string, name string) string {
	if nodePath == "" || nodePath == "." {
		return nodePath
	}
	i := strings.LastIndex(nodePath, "/")
	return nodePath[:i+1] + name
}

// records a value applied on behalf of a remote peer so the next pass does not echo it
func (self *DiffEngine) Absorb(propertyPath string, value any) {
	if self.selected == nil {
		return
	}
	if child := childObject(value); child != nil {
		self.AbsorbObject(child, propertyPath)
		return
	}
	if _, ok := self.snapshot[propertyPath]; ok {
		if _, linked := self.snapshot[propertyPath].(linkedObject); linked && value == nil {
			self.snapshot[propertyPath] = unsetObject
			return
		}
	}
	self.snapshot[propertyPath] = CopyValue(value)
}

func (self *DiffEngine) AbsorbObject(object PropertyObject, propertyPath string) {
	if self.selected == nil {
		return
	}
	self.snapshot[propertyPath] = linkedObject{className: object.ClassName()}
	self.initiate(object, propertyPath)
}
