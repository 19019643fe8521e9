package coedit

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

// Local profile that survives restarts: display name, the identity secret
// shared with project peers, and the last lobby joined per project.

var ErrStoreNotFound = errors.New("Not found.")

var profileBucket = []byte("profile")
var recentLobbyBucket = []byte("recent_lobby")

var displayNameKey = []byte("display_name")
var identitySecretKey = []byte("identity_secret")

const identitySecretLen = 32

type LocalStore struct {
	db *bbolt.DB
}

func OpenLocalStore(path string) (*LocalStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{profileBucket, recentLobbyBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalStore{
		db: db,
	}, nil
}

func (self *LocalStore) Close() error {
	return self.db.Close()
}

func (self *LocalStore) DisplayName() (string, error) {
	var displayName string
	err := self.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(profileBucket).Get(displayNameKey)
		if value == nil {
			return ErrStoreNotFound
		}
		displayName = string(value)
		return nil
	})
	return displayName, err
}

func (self *LocalStore) SetDisplayName(displayName string) error {
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(profileBucket).Put(displayNameKey, []byte(displayName))
	})
}

// Peers of a project must hold the same secret. `ErrStoreNotFound` when none is set.
func (self *LocalStore) IdentitySecret() ([]byte, error) {
	var secret []byte
	err := self.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(profileBucket).Get(identitySecretKey)
		if value == nil {
			return ErrStoreNotFound
		}
		// bbolt values are only valid for the transaction
		secret = append([]byte{}, value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// replaces the secret with a random one and returns it, to share with the project peers
func (self *LocalStore) GenerateIdentitySecret() ([]byte, error) {
	secret := make([]byte, identitySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := self.SetIdentitySecret(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

func (self *LocalStore) SetIdentitySecret(secret []byte) error {
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(profileBucket).Put(identitySecretKey, secret)
	})
}

func (self *LocalStore) RecentLobby(projectName string) (*LobbyInfo, error) {
	var lobby *LobbyInfo
	err := self.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(recentLobbyBucket).Get([]byte(projectName))
		if value == nil {
			return ErrStoreNotFound
		}
		lobby = &LobbyInfo{}
		return json.Unmarshal(value, lobby)
	})
	if err != nil {
		return nil, err
	}
	return lobby, nil
}

func (self *LocalStore) SetRecentLobby(projectName string, lobby *LobbyInfo) error {
	value, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recentLobbyBucket).Put([]byte(projectName), value)
	})
}
