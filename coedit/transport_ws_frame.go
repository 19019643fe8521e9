package coedit

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frames between a lobby host and its members, in protobuf wire format:
//   1 kind (varint)
//   2 source (fixed64)
//   3 destination (fixed64)
//   4 payload (bytes)
//   5 text (string), the display name on join or the reason on reject
//   6 reliable (varint)
//   7 member (repeated message: 1 peer id fixed64, 2 name string)
//   8 lobby id (string)

type wsFrameKind uint64

const (
	wsFrameJoin    wsFrameKind = 1
	wsFrameMembers wsFrameKind = 2
	wsFrameReject  wsFrameKind = 3
	wsFrameData    wsFrameKind = 4
)

type wsMember struct {
	PeerId PeerId
	Name   string
}

type wsFrame struct {
	Kind        wsFrameKind
	Source      PeerId
	Destination PeerId
	Payload     []byte
	Text        string
	Reliable    bool
	Members     []*wsMember
	LobbyId     LobbyId
}

func encodeWsFrame(frame *wsFrame) []byte {
	b := []byte{}
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(frame.Kind))
	if frame.Source != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(frame.Source))
	}
	if frame.Destination != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(frame.Destination))
	}
	if frame.Payload != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, frame.Payload)
	}
	if frame.Text != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, frame.Text)
	}
	if frame.Reliable {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, member := range frame.Members {
		m := []byte{}
		m = protowire.AppendTag(m, 1, protowire.Fixed64Type)
		m = protowire.AppendFixed64(m, uint64(member.PeerId))
		m = protowire.AppendTag(m, 2, protowire.BytesType)
		m = protowire.AppendString(m, member.Name)
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	if frame.LobbyId != "" {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendString(b, frame.LobbyId.String())
	}
	return b
}

func decodeWsFrame(b []byte) (*wsFrame, error) {
	frame := &wsFrame{}
	for 0 < len(b) {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Kind = wsFrameKind(v)
			b = b[n:]
		case num == 2 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Source = PeerId(v)
			b = b[n:]
		case num == 3 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Destination = PeerId(v)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Payload = append([]byte{}, v...)
			b = b[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Text = v
			b = b[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.Reliable = v != 0
			b = b[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			member, err := decodeWsMember(v)
			if err != nil {
				return nil, err
			}
			frame.Members = append(frame.Members, member)
			b = b[n:]
		case num == 8 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.LobbyId = LobbyId(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if frame.Kind == 0 {
		return nil, fmt.Errorf("Frame has no kind.")
	}
	return frame, nil
}

func decodeWsMember(b []byte) (*wsMember, error) {
	member := &wsMember{}
	for 0 < len(b) {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			member.PeerId = PeerId(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			member.Name = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return member, nil
}
