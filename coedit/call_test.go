package coedit

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

// encodes the call into a packet and back
func sendCallThroughWire(t *testing.T, call RemoteCall) RemoteCall {
	b, err := EncodeMessage(ToCallFunc(DefaultCallPath, call), DefaultPacketSizeLimit)
	assert.Equal(t, err, nil)
	message, err := DecodeMessage(b)
	assert.Equal(t, err, nil)
	callFunc, ok := message.(*CallFunc)
	assert.Equal(t, ok, true)
	assert.Equal(t, callFunc.Path, DefaultCallPath)
	assert.Equal(t, callFunc.FunctionName, call.FunctionName())
	decoded, err := FromCallFunc(callFunc)
	assert.Equal(t, err, nil)
	return decoded
}

func TestRemoteCallWire(t *testing.T) {
	hostId := NewPeerId()

	calls := []RemoteCall{
		&CompareFilesystem{
			PathList: []string{"res://a.gd", "res://b/c.tscn"},
			HostId:   hostId,
		},
		&UpdateScriptSame{
			From:     hostId,
			Contents: "extends Node\n",
		},
		&ReparentNodes{
			Paths:         []string{"A", "A/B"},
			NewParentPath: ".",
			Index:         -1,
		},
		&CreateNode{
			ParentPath:   "World",
			TypeName:     "Enemy",
			IsCustomType: true,
			CustomBase:   "Node2D",
		},
		&InstantiateScenes{
			ParentPath: ".",
			Paths:      []string{"res://enemy.tscn"},
			Index:      3,
		},
		&ApplyAction{
			NodePath:     "Player",
			PropertyPath: "/shape/radius",
			Value:        int64(12),
		},
		&ApplyAction{
			NodePath:     "Player",
			PropertyPath: "/texture",
			Value:        nil,
		},
		&InstantiateResource{
			NodePath:     "Player",
			ResourcePath: "/shape",
			ClassName:    "CircleShape2D",
		},
		&DeleteNodes{
			Paths: []string{},
		},
		&SetMousePosition{
			Sender:   hostId,
			Position: PointerPosition{X: 12.5, Y: 300},
		},
	}
	for _, call := range calls {
		assert.Equal(t, sendCallThroughWire(t, call), call)
	}
}

func TestFromCallFuncErrors(t *testing.T) {
	_, err := FromCallFunc(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: "_mouse_position",
		Args:         []any{},
	})
	assert.Equal(t, errors.Is(err, ErrUnknownMessage), true)

	// missing arg
	_, err = FromCallFunc(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallRenameFile,
		Args:         []any{"res://a.gd"},
	})
	assert.NotEqual(t, err, nil)

	// wrong kind
	_, err = FromCallFunc(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallCompareFilesystem,
		Args:         []any{[]any{"res://a.gd", int64(1)}, "1"},
	})
	assert.NotEqual(t, err, nil)

	_, err = FromCallFunc(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallRequestFileContents,
		Args:         []any{"not a peer"},
	})
	assert.NotEqual(t, err, nil)

	_, err = FromCallFunc(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallSetMousePosition,
		Args:         []any{NewPeerId().String(), []any{1.0}},
	})
	assert.NotEqual(t, err, nil)
}
