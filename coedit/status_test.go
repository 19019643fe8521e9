package coedit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestStatusServer(t *testing.T) {
	network := NewMemoryNetworkWithDefaults()
	a := newTestPeer(network, "a", map[string]string{}, nil)
	b := newTestPeer(network, "b", map[string]string{}, nil)
	startPeers(t, a, b)
	tickUntil(t, connected(a, b), a, b)

	a.sync.ScriptPathChanged("res://a.gd")
	tickUntil(t, func() bool {
		path, _ := b.sync.Registry().GetString(a.id(), KeyCurrentScriptPath)
		return path == "res://a.gd"
	}, a, b)

	statusServer := NewStatusServerWithDefaults(context.Background(), b.sync)
	defer statusServer.Close()
	server := httptest.NewServer(statusServer.Handler())
	defer server.Close()

	r, err := http.Get(server.URL + "/status")
	assert.Equal(t, err, nil)
	assert.Equal(t, r.StatusCode, http.StatusOK)
	var status SyncStatus
	err = json.NewDecoder(r.Body).Decode(&status)
	r.Body.Close()
	assert.Equal(t, err, nil)
	assert.Equal(t, status.LocalPeerId, b.id())
	assert.Equal(t, status.Enabled, true)
	assert.Equal(t, status.IsLobbyOwner, false)
	assert.Equal(t, len(status.Peers), 2)
	assert.Equal(t, status.Ownership["res://a.gd"].Owner, a.id())

	r, err = http.Get(server.URL + "/peers/" + a.id().String())
	assert.Equal(t, err, nil)
	assert.Equal(t, r.StatusCode, http.StatusOK)
	var record PeerRecord
	err = json.NewDecoder(r.Body).Decode(&record)
	r.Body.Close()
	assert.Equal(t, err, nil)
	assert.Equal(t, record.PeerId, a.id())
	assert.Equal(t, record.DisplayName, "a")

	r, err = http.Get(server.URL + "/peers/" + NewPeerId().String())
	assert.Equal(t, err, nil)
	r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusNotFound)

	r, err = http.Get(server.URL + "/peers/nope")
	assert.Equal(t, err, nil)
	r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusBadRequest)
}

func TestStatusServerListen(t *testing.T) {
	network := NewMemoryNetworkWithDefaults()
	a := newTestPeer(network, "a", map[string]string{}, nil)

	statusServer := NewStatusServerWithDefaults(context.Background(), a.sync)
	bound := make(chan string, 1)
	served := make(chan error, 1)
	go func() {
		served <- statusServer.ListenAndServe(bound)
	}()
	address := <-bound

	r, err := http.Get("http://" + address + "/status")
	assert.Equal(t, err, nil)
	r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusOK)

	statusServer.Close()
	assert.Equal(t, <-served, nil)
}
