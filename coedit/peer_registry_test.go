package coedit

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPeerRegistryLocalRecord(t *testing.T) {
	localPeerId := NewPeerId()
	registry := NewPeerRegistry(localPeerId, "local")

	assert.Equal(t, registry.Has(localPeerId), true)
	assert.Equal(t, registry.HandshakeCompleted(localPeerId), true)
	assert.Equal(t, registry.DisplayName(localPeerId), "local")
	assert.Equal(t, registry.SnapshotFor(localPeerId), InitialMetadata())
	// the local peer is never removed
	assert.Equal(t, registry.Remove(localPeerId), false)
	assert.Equal(t, registry.CompletedPeers(), []PeerId{})

	// empty is distinct from missing
	value, ok := registry.GetString(localPeerId, KeyCurrentScriptPath)
	assert.Equal(t, ok, true)
	assert.Equal(t, value, "")
	_, ok = registry.GetMetadata(localPeerId, "mouse_position")
	assert.Equal(t, ok, false)

	registry.UpsertMetadata(localPeerId, "mouse_position", []any{1, 2})
	value2, ok := registry.GetMetadata(localPeerId, "mouse_position")
	assert.Equal(t, ok, true)
	assert.Equal(t, value2, []any{1, 2})
}

func TestPeerRegistryHandshake(t *testing.T) {
	registry := NewPeerRegistry(NewPeerId(), "local")
	a := NewPeerId()

	assert.Equal(t, registry.Has(a), false)
	assert.Equal(t, registry.MarkHandshakeCompleted(a), true)
	assert.Equal(t, registry.MarkHandshakeCompleted(a), false)
	assert.Equal(t, registry.HandshakeCompleted(a), true)
	assert.Equal(t, registry.CompletedPeers(), []PeerId{a})

	// a bulk snapshot for an unknown peer creates a pending record
	b := NewPeerId()
	registry.LoadSnapshot(b, map[string]any{KeyEditorTabIndex: int64(2)})
	assert.Equal(t, registry.Has(b), true)
	assert.Equal(t, registry.HandshakeCompleted(b), false)
	tab, ok := registry.GetInt(b, KeyEditorTabIndex)
	assert.Equal(t, ok, true)
	assert.Equal(t, tab, 2)

	// the snapshot replaces the metadata wholesale
	registry.LoadSnapshot(b, map[string]any{KeyCurrentScenePath: "res://main.tscn"})
	_, ok = registry.GetInt(b, KeyEditorTabIndex)
	assert.Equal(t, ok, false)

	assert.Equal(t, registry.Remove(a), true)
	assert.Equal(t, registry.Remove(a), false)
	assert.Equal(t, registry.Has(a), false)
	assert.Equal(t, len(registry.Peers()), 2)
}

func TestPeerRegistryMetadataIsCopied(t *testing.T) {
	registry := NewPeerRegistry(NewPeerId(), "local")
	a := NewPeerId()

	value := map[string]any{"x": int64(1)}
	registry.UpsertMetadata(a, "custom", value)
	value["x"] = int64(2)

	stored, _ := registry.GetMetadata(a, "custom")
	assert.Equal(t, stored, map[string]any{"x": int64(1)})

	stored.(map[string]any)["x"] = int64(3)
	stored, _ = registry.GetMetadata(a, "custom")
	assert.Equal(t, stored, map[string]any{"x": int64(1)})
}

func TestOwnership(t *testing.T) {
	localPeerId := NewPeerId()
	registry := NewPeerRegistry(localPeerId, "local")
	a := NewPeerId()
	b := NewPeerId()
	registry.MarkHandshakeCompleted(a)
	registry.MarkHandshakeCompleted(b)

	registry.UpsertMetadata(localPeerId, KeyCurrentScriptPath, "res://x.gd")
	registry.UpsertMetadata(a, KeyCurrentSpectatingScript, "res://x.gd")
	registry.UpsertMetadata(b, KeyCurrentScriptPath, "res://y.gd")

	ownership := registry.OwnershipOf()
	assert.Equal(t, len(ownership), 2)
	assert.Equal(t, ownership["res://x.gd"].Owner, localPeerId)
	assert.Equal(t, ownership["res://x.gd"].Spectators, []PeerId{a})
	assert.Equal(t, ownership["res://y.gd"].Owner, b)
	assert.Equal(t, ownership["res://y.gd"].Spectators, []PeerId{})
	assert.Equal(t, registry.ConflictingPaths(), []string{})

	registry.UpsertMetadata(a, KeyCurrentScriptPath, "res://y.gd")
	assert.Equal(t, registry.ConflictingPaths(), []string{"res://y.gd"})
}

func TestPeerRegistryPointers(t *testing.T) {
	localPeerId := NewPeerId()
	registry := NewPeerRegistry(localPeerId, "local")
	a := NewPeerId()
	b := NewPeerId()

	// unknown peers are not recorded
	assert.Equal(t, registry.SetPointer(a, PointerPosition{X: 1, Y: 2}), false)

	registry.MarkHandshakeCompleted(a)
	registry.UpsertMetadata(b, KeyCurrentScenePath, "")
	assert.Equal(t, registry.SetPointer(a, PointerPosition{X: 1, Y: 2}), true)
	assert.Equal(t, registry.SetPointer(b, PointerPosition{X: 3, Y: 4}), true)
	assert.Equal(t, registry.SetPointer(localPeerId, PointerPosition{X: 5, Y: 6}), true)

	// only remote peers with a completed handshake
	assert.Equal(t, registry.RemotePointers(), map[PeerId]PointerPosition{
		a: {X: 1, Y: 2},
	})

	// the pointer is not part of the metadata snapshot
	registry.LoadSnapshot(a, map[string]any{})
	assert.Equal(t, registry.SnapshotFor(a), map[string]any{})
	assert.Equal(t, registry.RemotePointers()[a], PointerPosition{X: 1, Y: 2})
}
