package coedit

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestMessageCodec(t *testing.T) {
	sender := PeerId(18446744073709551557)

	b, err := EncodeMessage(&SetUserData{
		Sender: sender,
		Item:   KeyEditorTabIndex,
		Value:  2,
	}, DefaultPacketSizeLimit)
	assert.Equal(t, err, nil)

	message, err := DecodeMessage(b)
	assert.Equal(t, err, nil)
	setUserData, ok := message.(*SetUserData)
	assert.Equal(t, ok, true)
	// peer ids keep full precision
	assert.Equal(t, setUserData.Sender, sender)
	assert.Equal(t, setUserData.Item, KeyEditorTabIndex)
	assert.Equal(t, setUserData.Value, int64(2))

	b, err = EncodeMessage(&SyncUserData{
		UserId: sender,
		Data:   InitialMetadata(),
	}, DefaultPacketSizeLimit)
	assert.Equal(t, err, nil)
	message, err = DecodeMessage(b)
	assert.Equal(t, err, nil)
	syncUserData := message.(*SyncUserData)
	assert.Equal(t, syncUserData.UserId, sender)
	assert.Equal(t, syncUserData.Data, InitialMetadata())

	b, err = EncodeMessage(&SyncVar{
		Path:     "Player",
		Property: "speed",
		Value:    2.5,
	}, DefaultPacketSizeLimit)
	assert.Equal(t, err, nil)
	message, err = DecodeMessage(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, message, &SyncVar{Path: "Player", Property: "speed", Value: 2.5})

	b, err = EncodeMessage(&Handshake{}, DefaultPacketSizeLimit)
	assert.Equal(t, err, nil)
	message, err = DecodeMessage(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, message, &Handshake{})
}

func TestMessageTooLarge(t *testing.T) {
	_, err := EncodeMessage(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallReceiveFileContents,
		Args:         []any{"res://big.txt", strings.Repeat("x", DefaultPacketSizeLimit)},
	}, DefaultPacketSizeLimit)
	assert.Equal(t, errors.Is(err, ErrPacketTooLarge), true)

	// no limit
	_, err = EncodeMessage(&CallFunc{
		Path:         DefaultCallPath,
		FunctionName: CallReceiveFileContents,
		Args:         []any{"res://big.txt", strings.Repeat("x", DefaultPacketSizeLimit)},
	}, 0)
	assert.Equal(t, err, nil)
}

func encodeEnvelope(t *testing.T, envelope map[string]any) []byte {
	s, err := structpb.NewStruct(envelope)
	assert.Equal(t, err, nil)
	b, err := proto.Marshal(s)
	assert.Equal(t, err, nil)
	return b
}

func TestDecodeBadPackets(t *testing.T) {
	_, err := DecodeMessage([]byte{})
	assert.Equal(t, errors.Is(err, ErrEmptyPacket), true)

	_, err = DecodeMessage([]byte{0xff, 0xff, 0xff})
	assert.NotEqual(t, err, nil)

	_, err = DecodeMessage(encodeEnvelope(t, map[string]any{
		"message": "mouse_position",
	}))
	assert.Equal(t, errors.Is(err, ErrUnknownMessage), true)

	_, err = DecodeMessage(encodeEnvelope(t, map[string]any{
		"item": "x",
	}))
	assert.Equal(t, errors.Is(err, ErrUnknownMessage), true)

	// sender must be a peer id string
	_, err = DecodeMessage(encodeEnvelope(t, map[string]any{
		"message": MessageSetUserData,
		"sender":  12.0,
		"item":    "x",
		"value":   nil,
	}))
	assert.NotEqual(t, err, nil)

	_, err = DecodeMessage(encodeEnvelope(t, map[string]any{
		"message":       MessageCallFunc,
		"path":          DefaultCallPath,
		"function_name": CallDeleteFile,
	}))
	assert.NotEqual(t, err, nil)
}
