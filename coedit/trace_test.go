package coedit

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRecoverInbound(t *testing.T) {
	sender := NewPeerId()

	err := RecoverInbound(sender, CallDeleteFile, func() error {
		return nil
	})
	assert.Equal(t, err, nil)

	rejected := errors.New("rejected")
	err = RecoverInbound(sender, CallDeleteFile, func() error {
		return rejected
	})
	assert.Equal(t, err, rejected)

	err = RecoverInbound(sender, CallDeleteFile, func() error {
		var nodes map[string]SceneNode
		nodes["A"] = nil
		return nil
	})
	assert.Equal(t, errors.Is(err, ErrHandlerPanic), true)
}

func TestErrorJson(t *testing.T) {
	sender := NewPeerId()
	var fields map[string]any
	err := json.Unmarshal([]byte(ErrorJson(sender, CallRenameFile, errors.New("bad"), []byte("a\n  b\n\n"))), &fields)
	assert.Equal(t, err, nil)
	assert.Equal(t, fields["sender"], sender.String())
	assert.Equal(t, fields["message"], CallRenameFile)
	assert.Equal(t, fields["error"], "*errors.errorString=bad")
	assert.Equal(t, fields["stack"], []any{"a", "b"})
}
