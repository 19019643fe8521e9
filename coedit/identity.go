package coedit

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// The identity a peer presents in its handshake. Signed with the project
// secret when one is configured, so peers of other projects are told apart.
type PeerIdentity struct {
	PeerId      PeerId
	DisplayName string
	LobbyId     LobbyId
}

func SignPeerIdentity(identity *PeerIdentity, secret []byte) (string, error) {
	claims := gojwt.MapClaims{
		"peer_id":      identity.PeerId.String(),
		"display_name": identity.DisplayName,
		"lobby_id":     identity.LobbyId.String(),
		"iat":          time.Now().Unix(),
	}
	if len(secret) == 0 {
		token := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims)
		return token.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParsePeerIdentityUnverified(identityJwt string) (*PeerIdentity, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(identityJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	return peerIdentityFromClaims(token.Claims.(gojwt.MapClaims))
}

// verifies the signature when a secret is set
func ParsePeerIdentity(identityJwt string, secret []byte) (*PeerIdentity, error) {
	if len(secret) == 0 {
		return ParsePeerIdentityUnverified(identityJwt)
	}
	token, err := gojwt.Parse(
		identityJwt,
		func(token *gojwt.Token) (any, error) {
			return secret, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	return peerIdentityFromClaims(token.Claims.(gojwt.MapClaims))
}

func peerIdentityFromClaims(claims gojwt.MapClaims) (*PeerIdentity, error) {
	identity := &PeerIdentity{}

	peerIdStr, ok := claims["peer_id"].(string)
	if !ok {
		return nil, fmt.Errorf("Identity has no peer_id.")
	}
	peerId, err := ParsePeerId(peerIdStr)
	if err != nil {
		return nil, err
	}
	identity.PeerId = peerId

	if displayName, ok := claims["display_name"].(string); ok {
		identity.DisplayName = displayName
	}
	if lobbyId, ok := claims["lobby_id"].(string); ok {
		identity.LobbyId = LobbyId(lobbyId)
	}
	return identity, nil
}
