package coedit

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// every packet is one structured mapping with a `message` discriminator

const DefaultPacketSizeLimit = 1200

const (
	MessageHandshake    = "handshake"
	MessageSetUserData  = "set_user_data"
	MessageSyncUserData = "sync_user_data"
	MessageCallFunc     = "call_func"
	MessageSyncVar      = "sync_var"
)

var ErrEmptyPacket = errors.New("Empty packet.")
var ErrPacketTooLarge = errors.New("Packet too large.")
var ErrUnknownMessage = errors.New("Unknown message.")

type Message interface {
	MessageName() string
}

type Handshake struct {
	// signed identity token, see `SignPeerIdentity`
	Identity string
}

func (self *Handshake) MessageName() string { return MessageHandshake }

type SetUserData struct {
	Sender PeerId
	Item   string
	Value  any
}

func (self *SetUserData) MessageName() string { return MessageSetUserData }

type SyncUserData struct {
	UserId PeerId
	Data   map[string]any
}

func (self *SyncUserData) MessageName() string { return MessageSyncUserData }

type CallFunc struct {
	Path         string
	FunctionName string
	Args         []any
}

func (self *CallFunc) MessageName() string { return MessageCallFunc }

type SyncVar struct {
	Path     string
	Property string
	Value    any
}

func (self *SyncVar) MessageName() string { return MessageSyncVar }

func ToEnvelope(message Message) (map[string]any, error) {
	envelope := map[string]any{
		"message": message.MessageName(),
	}
	switch v := message.(type) {
	case *Handshake:
		envelope["identity"] = v.Identity
	case *SetUserData:
		envelope["sender"] = v.Sender
		envelope["item"] = v.Item
		envelope["value"] = v.Value
	case *SyncUserData:
		envelope["user_id"] = v.UserId
		data := map[string]any{}
		for key, value := range v.Data {
			data[key] = value
		}
		envelope["data"] = data
	case *CallFunc:
		envelope["path"] = v.Path
		envelope["function_name"] = v.FunctionName
		args := v.Args
		if args == nil {
			args = []any{}
		}
		envelope["args"] = args
	case *SyncVar:
		envelope["path"] = v.Path
		envelope["property"] = v.Property
		envelope["value"] = v.Value
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, v)
	}
	wireEnvelope, err := toWireValue(envelope)
	if err != nil {
		return nil, err
	}
	return wireEnvelope.(map[string]any), nil
}

func FromEnvelope(envelope map[string]any) (Message, error) {
	if len(envelope) == 0 {
		return nil, ErrEmptyPacket
	}
	messageName, ok := envelope["message"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing discriminator", ErrUnknownMessage)
	}
	fields := envelopeFields(envelope)
	var message Message
	switch messageName {
	case MessageHandshake:
		message = &Handshake{
			Identity: fields.optionalString("identity"),
		}
	case MessageSetUserData:
		message = &SetUserData{
			Sender: fields.peerId("sender"),
			Item:   fields.string("item"),
			Value:  envelope["value"],
		}
	case MessageSyncUserData:
		message = &SyncUserData{
			UserId: fields.peerId("user_id"),
			Data:   fields.mapping("data"),
		}
	case MessageCallFunc:
		message = &CallFunc{
			Path:         fields.string("path"),
			FunctionName: fields.string("function_name"),
			Args:         fields.list("args"),
		}
	case MessageSyncVar:
		message = &SyncVar{
			Path:     fields.string("path"),
			Property: fields.string("property"),
			Value:    envelope["value"],
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageName)
	}
	if fields.err != nil {
		return nil, fmt.Errorf("Bad %s: %w", messageName, fields.err)
	}
	return message, nil
}

func EncodeMessage(message Message, sizeLimit int) ([]byte, error) {
	envelope, err := ToEnvelope(message)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(envelope)
	if err != nil {
		return nil, err
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, err
	}
	if 0 < sizeLimit && sizeLimit < len(b) {
		return nil, fmt.Errorf("%w: %s %d > %d", ErrPacketTooLarge, message.MessageName(), len(b), sizeLimit)
	}
	return b, nil
}

func DecodeMessage(b []byte) (Message, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, err
	}
	envelope := fromWireValue(s.AsMap()).(map[string]any)
	return FromEnvelope(envelope)
}

// collects the first field error so decoders read straight through
type fieldReader struct {
	envelope map[string]any
	err      error
}

func envelopeFields(envelope map[string]any) *fieldReader {
	return &fieldReader{envelope: envelope}
}

func (self *fieldReader) fail(key string, expected string) {
	if self.err == nil {
		self.err = fmt.Errorf("field %q is not a %s (%T)", key, expected, self.envelope[key])
	}
}

func (self *fieldReader) string(key string) string {
	v, ok := self.envelope[key].(string)
	if !ok {
		self.fail(key, "string")
	}
	return v
}

func (self *fieldReader) optionalString(key string) string {
	if _, ok := self.envelope[key]; !ok {
		return ""
	}
	return self.string(key)
}

func (self *fieldReader) peerId(key string) PeerId {
	s := self.string(key)
	if self.err != nil {
		return 0
	}
	peerId, err := ParsePeerId(s)
	if err != nil && self.err == nil {
		self.err = err
	}
	return peerId
}

func (self *fieldReader) mapping(key string) map[string]any {
	v, ok := self.envelope[key].(map[string]any)
	if !ok {
		self.fail(key, "mapping")
	}
	return v
}

func (self *fieldReader) list(key string) []any {
	v, ok := self.envelope[key].([]any)
	if !ok {
		self.fail(key, "list")
	}
	return v
}
