package coedit

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// transport-assigned identity of a peer. 0 is never assigned and addresses every lobby member.
type PeerId uint64

const BroadcastPeerId = PeerId(0)

// the low 64 bits of a ulid are entropy; fold in the timestamp so ids from one
// process still differ if the entropy source repeats
func NewPeerId() PeerId {
	for {
		id := ulid.MustNew(ulid.Now(), rand.Reader)
		entropy := binary.BigEndian.Uint64(id[8:16])
		timestamp := binary.BigEndian.Uint64(append([]byte{0, 0}, id[0:6]...))
		peerId := PeerId(entropy ^ (timestamp << 16))
		if peerId != BroadcastPeerId {
			return peerId
		}
	}
}

func ParsePeerId(peerIdStr string) (PeerId, error) {
	v, err := strconv.ParseUint(peerIdStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("Invalid peer id %q: %w", peerIdStr, err)
	}
	return PeerId(v), nil
}

func (self PeerId) String() string {
	return strconv.FormatUint(uint64(self), 10)
}

func (self PeerId) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *PeerId) UnmarshalText(b []byte) error {
	peerId, err := ParsePeerId(string(b))
	if err != nil {
		return err
	}
	*self = peerId
	return nil
}

type LobbyId string

func NewLobbyId() LobbyId {
	return LobbyId(uuid.NewString())
}

func ParseLobbyId(lobbyIdStr string) (LobbyId, error) {
	if lobbyIdStr == "" {
		return "", errors.New("Empty lobby id.")
	}
	if _, err := uuid.Parse(lobbyIdStr); err != nil {
		return "", fmt.Errorf("Invalid lobby id %q: %w", lobbyIdStr, err)
	}
	return LobbyId(lobbyIdStr), nil
}

func (self LobbyId) String() string {
	return string(self)
}
