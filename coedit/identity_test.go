package coedit

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPeerIdentity(t *testing.T) {
	identity := &PeerIdentity{
		PeerId:      NewPeerId(),
		DisplayName: "a",
		LobbyId:     NewLobbyId(),
	}

	// unsigned
	identityJwt, err := SignPeerIdentity(identity, nil)
	assert.Equal(t, err, nil)
	parsed, err := ParsePeerIdentity(identityJwt, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, identity)
	// an unsigned identity is rejected once a secret is set
	_, err = ParsePeerIdentity(identityJwt, []byte("secret"))
	assert.NotEqual(t, err, nil)

	identityJwt, err = SignPeerIdentity(identity, []byte("secret"))
	assert.Equal(t, err, nil)
	parsed, err = ParsePeerIdentity(identityJwt, []byte("secret"))
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, identity)

	_, err = ParsePeerIdentity(identityJwt, []byte("other"))
	assert.NotEqual(t, err, nil)

	parsed, err = ParsePeerIdentityUnverified(identityJwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.PeerId, identity.PeerId)

	_, err = ParsePeerIdentity("not a jwt", nil)
	assert.NotEqual(t, err, nil)
}
