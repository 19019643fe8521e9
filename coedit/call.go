package coedit

import (
	"fmt"
)

// remote calls ride in `call_func` with positional args

const (
	CallUpdateScriptDifferent = "_update_script_different"
	CallUpdateScriptSame      = "_update_script_same"
	CallUpdateSceneDifferent  = "_update_scene_different"
	CallCompareFilesystem     = "_compare_filesystem"
	CallRequestFileContents   = "_request_file_contents"
	CallReceiveFileContents   = "_receive_file_contents"
	CallDeleteFile            = "_delete_file"
	CallRenameFile            = "_rename_file"
	CallSetAsScriptOwner      = "_set_as_script_owner"
	CallApplyAction           = "_apply_action"
	CallInstantiateResource   = "_instantiate_resource"
	CallReparentNodes         = "_reparent_nodes"
	CallCreateNode            = "_create_node"
	CallInstantiateScenes     = "_instantiate_scenes"
	CallDeleteNodes           = "_delete_nodes"
	CallSetMousePosition      = "_set_mouse_position"
)

type RemoteCall interface {
	FunctionName() string
	Args() []any
}

type UpdateScriptDifferent struct {
	Path string
	Code string
}

func (self *UpdateScriptDifferent) FunctionName() string { return CallUpdateScriptDifferent }
func (self *UpdateScriptDifferent) Args() []any          { return []any{self.Path, self.Code} }

// live text for spectators of the sender's script
type UpdateScriptSame struct {
	From     PeerId
	Contents string
}

func (self *UpdateScriptSame) FunctionName() string { return CallUpdateScriptSame }
func (self *UpdateScriptSame) Args() []any          { return []any{self.From, self.Contents} }

type UpdateSceneDifferent struct {
	Path string
	Data string
}

func (self *UpdateSceneDifferent) FunctionName() string { return CallUpdateSceneDifferent }
func (self *UpdateSceneDifferent) Args() []any          { return []any{self.Path, self.Data} }

type CompareFilesystem struct {
	PathList []string
	HostId   PeerId
}

func (self *CompareFilesystem) FunctionName() string { return CallCompareFilesystem }
func (self *CompareFilesystem) Args() []any          { return []any{self.PathList, self.HostId} }

type RequestFileContents struct {
	ClientId PeerId
}

func (self *RequestFileContents) FunctionName() string { return CallRequestFileContents }
func (self *RequestFileContents) Args() []any          { return []any{self.ClientId} }

type ReceiveFileContents struct {
	Path     string
	Contents string
}

func (self *ReceiveFileContents) FunctionName() string { return CallReceiveFileContents }
func (self *ReceiveFileContents) Args() []any          { return []any{self.Path, self.Contents} }

type DeleteFile struct {
	Path string
}

func (self *DeleteFile) FunctionName() string { return CallDeleteFile }
func (self *DeleteFile) Args() []any          { return []any{self.Path} }

type RenameFile struct {
	From string
	To   string
}

func (self *RenameFile) FunctionName() string { return CallRenameFile }
func (self *RenameFile) Args() []any          { return []any{self.From, self.To} }

type SetAsScriptOwner struct {
	Path string
}

func (self *SetAsScriptOwner) FunctionName() string { return CallSetAsScriptOwner }
func (self *SetAsScriptOwner) Args() []any          { return []any{self.Path} }

type ApplyAction struct {
	NodePath     string
	PropertyPath string
	Value        any
}

func (self *ApplyAction) FunctionName() string { return CallApplyAction }
func (self *ApplyAction) Args() []any          { return []any{self.NodePath, self.PropertyPath, self.Value} }

type InstantiateResource struct {
	NodePath     string
	ResourcePath string
	ClassName    string
}

func (self *InstantiateResource) FunctionName() string { return CallInstantiateResource }
func (self *InstantiateResource) Args() []any {
	return []any{self.NodePath, self.ResourcePath, self.ClassName}
}

type ReparentNodes struct {
	Paths         []string
	NewParentPath string
	Index         int
}

func (self *ReparentNodes) FunctionName() string { return CallReparentNodes }
func (self *ReparentNodes) Args() []any          { return []any{self.Paths, self.NewParentPath, self.Index} }

type CreateNode struct {
	ParentPath   string
	TypeName     string
	IsCustomType bool
	// the engine base class a custom type extends
	CustomBase string
}

func (self *CreateNode) FunctionName() string { return CallCreateNode }
func (self *CreateNode) Args() []any {
	return []any{self.ParentPath, self.TypeName, self.IsCustomType, self.CustomBase}
}

type InstantiateScenes struct {
	ParentPath string
	Paths      []string
	Index      int
}

func (self *InstantiateScenes) FunctionName() string { return CallInstantiateScenes }
func (self *InstantiateScenes) Args() []any          { return []any{self.ParentPath, self.Paths, self.Index} }

type DeleteNodes struct {
	Paths []string
}

func (self *DeleteNodes) FunctionName() string { return CallDeleteNodes }
func (self *DeleteNodes) Args() []any          { return []any{self.Paths} }

// screen position of a pointer, in the host's coordinates
type PointerPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// resent every tick, so a lost packet is repaired by the next one
type SetMousePosition struct {
	Sender   PeerId
	Position PointerPosition
}

func (self *SetMousePosition) FunctionName() string { return CallSetMousePosition }
func (self *SetMousePosition) Args() []any {
	return []any{self.Sender, []any{self.Position.X, self.Position.Y}}
}

func ToCallFunc(path string, call RemoteCall) *CallFunc {
	return &CallFunc{
		Path:         path,
		FunctionName: call.FunctionName(),
		Args:         call.Args(),
	}
}

func FromCallFunc(callFunc *CallFunc) (RemoteCall, error) {
	args := callArgs(callFunc.Args)
	var call RemoteCall
	switch callFunc.FunctionName {
	case CallUpdateScriptDifferent:
		call = &UpdateScriptDifferent{
			Path: args.string(0),
			Code: args.string(1),
		}
	case CallUpdateScriptSame:
		call = &UpdateScriptSame{
			From:     args.peerId(0),
			Contents: args.string(1),
		}
	case CallUpdateSceneDifferent:
		call = &UpdateSceneDifferent{
			Path: args.string(0),
			Data: args.string(1),
		}
	case CallCompareFilesystem:
		call = &CompareFilesystem{
			PathList: args.strings(0),
			HostId:   args.peerId(1),
		}
	case CallRequestFileContents:
		call = &RequestFileContents{
			ClientId: args.peerId(0),
		}
	case CallReceiveFileContents:
		call = &ReceiveFileContents{
			Path:     args.string(0),
			Contents: args.string(1),
		}
	case CallDeleteFile:
		call = &DeleteFile{
			Path: args.string(0),
		}
	case CallRenameFile:
		call = &RenameFile{
			From: args.string(0),
			To:   args.string(1),
		}
	case CallSetAsScriptOwner:
		call = &SetAsScriptOwner{
			Path: args.string(0),
		}
	case CallApplyAction:
		call = &ApplyAction{
			NodePath:     args.string(0),
			PropertyPath: args.string(1),
			Value:        args.value(2),
		}
	case CallInstantiateResource:
		call = &InstantiateResource{
			NodePath:     args.string(0),
			ResourcePath: args.string(1),
			ClassName:    args.string(2),
		}
	case CallReparentNodes:
		call = &ReparentNodes{
			Paths:         args.strings(0),
			NewParentPath: args.string(1),
			Index:         args.int(2),
		}
	case CallCreateNode:
		call = &CreateNode{
			ParentPath:   args.string(0),
			TypeName:     args.string(1),
			IsCustomType: args.bool(2),
			CustomBase:   args.string(3),
		}
	case CallInstantiateScenes:
		call = &InstantiateScenes{
			ParentPath: args.string(0),
			Paths:      args.strings(1),
			Index:      args.int(2),
		}
	case CallDeleteNodes:
		call = &DeleteNodes{
			Paths: args.strings(0),
		}
	case CallSetMousePosition:
		call = &SetMousePosition{
			Sender:   args.peerId(0),
			Position: args.position(1),
		}
	default:
		return nil, fmt.Errorf("%w: function %s", ErrUnknownMessage, callFunc.FunctionName)
	}
	if args.err != nil {
		return nil, fmt.Errorf("Bad args for %s: %w", callFunc.FunctionName, args.err)
	}
	return call, nil
}

type argReader struct {
	args []any
	err  error
}

func callArgs(args []any) *argReader {
	return &argReader{args: args}
}

func (self *argReader) arg(i int) (any, bool) {
	if len(self.args) <= i {
		if self.err == nil {
			self.err = fmt.Errorf("missing arg %d", i)
		}
		return nil, false
	}
	return self.args[i], true
}

func (self *argReader) fail(i int, expected string) {
	if self.err == nil {
		self.err = fmt.Errorf("arg %d is not a %s (%T)", i, expected, self.args[i])
	}
}

func (self *argReader) value(i int) any {
	v, _ := self.arg(i)
	return v
}

func (self *argReader) string(i int) string {
	v, ok := self.arg(i)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		self.fail(i, "string")
	}
	return s
}

func (self *argReader) bool(i int) bool {
	v, ok := self.arg(i)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		self.fail(i, "bool")
	}
	return b
}

func (self *argReader) int(i int) int {
	v, ok := self.arg(i)
	if !ok {
		return 0
	}
	n, ok := numericValue(v)
	if !ok {
		self.fail(i, "number")
	}
	return int(n)
}

func (self *argReader) peerId(i int) PeerId {
	v, ok := self.arg(i)
	if !ok {
		return 0
	}
	switch w := v.(type) {
	case PeerId:
		return w
	case string:
		peerId, err := ParsePeerId(w)
		if err != nil && self.err == nil {
			self.err = err
		}
		return peerId
	default:
		self.fail(i, "peer id")
		return 0
	}
}

func (self *argReader) strings(i int) []string {
	v, ok := self.arg(i)
	if !ok {
		return nil
	}
	switch w := v.(type) {
	case []string:
		return w
	case []any:
		out := make([]string, 0, len(w))
		for _, e := range w {
			s, ok := e.(string)
			if !ok {
				self.fail(i, "string list")
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		self.fail(i, "string list")
		return nil
	}
}

func (self *argReader) position(i int) PointerPosition {
	v, ok := self.arg(i)
	if !ok {
		return PointerPosition{}
	}
	xy, ok := v.([]any)
	if !ok || len(xy) != 2 {
		self.fail(i, "position")
		return PointerPosition{}
	}
	x, xOk := numericValue(xy[0])
	y, yOk := numericValue(xy[1])
	if !xOk || !yOk {
		self.fail(i, "position")
		return PointerPosition{}
	}
	return PointerPosition{X: x, Y: y}
}
