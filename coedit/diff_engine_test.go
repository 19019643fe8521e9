package coedit

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func testClasses() *ClassRegistry {
	classes := NewClassRegistry()
	classes.Register("Node", &ClassTemplate{})
	classes.Register("Node2D", &ClassTemplate{
		Properties: []PropertyInfo{
			{Name: "Transform", Kind: PropertyKindNil},
			{Name: "position", Kind: PropertyKindValue},
			{Name: "visible", Kind: PropertyKindValue},
		},
		Defaults: map[string]any{
			"position": []any{0.0, 0.0},
			"visible":  true,
		},
	})
	classes.Register("CollisionShape2D", &ClassTemplate{
		Properties: []PropertyInfo{
			{Name: "disabled", Kind: PropertyKindValue},
			{Name: "shape", Kind: PropertyKindObject},
		},
		Defaults: map[string]any{
			"disabled": false,
		},
	})
	classes.Register("CircleShape2D", &ClassTemplate{
		Properties: []PropertyInfo{
			{Name: "radius", Kind: PropertyKindValue},
		},
		Defaults: map[string]any{
			"radius": 10.0,
		},
	})
	return classes
}

func testNode(t *testing.T, classes *ClassRegistry, className string, name string) *MemoryNode {
	object, err := classes.NewObject(className)
	assert.Equal(t, err, nil)
	return NewMemoryNode(name, object)
}

func TestDiffBaselineAndIdempotence(t *testing.T) {
	classes := testClasses()
	root := testNode(t, classes, "Node2D", "World")
	player := testNode(t, classes, "Node2D", "Player")
	root.AddChild(player, -1)

	diffEngine := NewDiffEngine()
	// the first pass records a baseline
	assert.Equal(t, len(diffEngine.Pass(player, root.PathTo(player))), 0)
	assert.Equal(t, diffEngine.Selected(), PropertyObject(player))
	// no changes, no actions
	assert.Equal(t, len(diffEngine.Pass(player, root.PathTo(player))), 0)
	assert.Equal(t, len(diffEngine.Pass(player, root.PathTo(player))), 0)

	player.SetProperty("position", []any{4.0, 2.0})
	actions := diffEngine.Pass(player, root.PathTo(player))
	assert.Equal(t, actions, []*DiffAction{
		{
			Kind:         DiffActionApply,
			NodePath:     "Player",
			PropertyPath: "/position",
			Value:        []any{4.0, 2.0},
		},
	})
	assert.Equal(t, len(diffEngine.Pass(player, root.PathTo(player))), 0)

	// numerically equal values of another kind are not a change
	player.SetProperty("position", []any{int64(4), int64(2)})
	assert.Equal(t, len(diffEngine.Pass(player, root.PathTo(player))), 0)
}

func TestDiffRename(t *testing.T) {
	classes := testClasses()
	root := testNode(t, classes, "Node2D", "World")
	player := testNode(t, classes, "Node2D", "Player")
	root.AddChild(player, -1)

	diffEngine := NewDiffEngine()
	diffEngine.Pass(player, root.PathTo(player))

	player.SetProperty("name", "Hero")
	player.SetProperty("visible", false)
	actions := diffEngine.Pass(player, "Player")
	assert.Equal(t, len(actions), 2)
	// the rename is addressed by the old name, later actions by the new one
	assert.Equal(t, actions[0].NodePath, "Player")
	assert.Equal(t, actions[0].PropertyPath, "/name")
	assert.Equal(t, actions[0].Value, "Hero")
	assert.Equal(t, actions[1].NodePath, "Hero")
	assert.Equal(t, actions[1].PropertyPath, "/visible")
	assert.Equal(t, actions[1].Value, false)
}

func TestDiffObjectProperties(t *testing.T) {
	classes := testClasses()
	root := testNode(t, classes, "Node2D", "World")
	collision := testNode(t, classes, "CollisionShape2D", "Collision")
	root.AddChild(collision, -1)

	diffEngine := NewDiffEngine()
	diffEngine.Pass(collision, "Collision")

	shape, err := classes.NewObject("CircleShape2D")
	assert.Equal(t, err, nil)
	collision.SetProperty("shape", shape)

	actions := diffEngine.Pass(collision, "Collision")
	assert.Equal(t, len(actions), 1)
	assert.Equal(t, actions[0].Kind, DiffActionInstantiate)
	assert.Equal(t, actions[0].PropertyPath, "/shape")
	assert.Equal(t, actions[0].ClassName, "CircleShape2D")
	assert.Equal(t, actions[0].RemoteCall(), &InstantiateResource{
		NodePath:     "Collision",
		ResourcePath: "/shape",
		ClassName:    "CircleShape2D",
	})

	shape.SetProperty("radius", 12.0)
	actions = diffEngine.Pass(collision, "Collision")
	assert.Equal(t, len(actions), 1)
	assert.Equal(t, actions[0].RemoteCall(), &ApplyAction{
		NodePath:     "Collision",
		PropertyPath: "/shape/radius",
		Value:        12.0,
	})

	collision.SetProperty("shape", nil)
	actions = diffEngine.Pass(collision, "Collision")
	assert.Equal(t, len(actions), 1)
	assert.Equal(t, actions[0].Kind, DiffActionApply)
	assert.Equal(t, actions[0].PropertyPath, "/shape")
	assert.Equal(t, actions[0].Value, nil)

	assert.Equal(t, len(diffEngine.Pass(collision, "Collision")), 0)
}

func TestDiffSelectionChange(t *testing.T) {
	classes := testClasses()
	root := testNode(t, classes, "Node2D", "World")
	a := testNode(t, classes, "Node2D", "A")
	b := testNode(t, classes, "Node2D", "B")
	root.AddChild(a, -1)
	root.AddChild(b, -1)

	diffEngine := NewDiffEngine()
	diffEngine.Pass(a, "A")
	a.SetProperty("visible", false)

	// switching the selection drops pending changes on the old one
	assert.Equal(t, len(diffEngine.Pass(b, "B")), 0)
	assert.Equal(t, len(diffEngine.Pass(a, "A")), 0)

	assert.Equal(t, len(diffEngine.Pass(nil, "")), 0)
	assert.Equal(t, diffEngine.Selected(), nil)
}

func TestDiffAbsorb(t *testing.T) {
	classes := testClasses()
	collision := testNode(t, classes, "CollisionShape2D", "Collision")

	diffEngine := NewDiffEngine()
	diffEngine.Pass(collision, ".")

	// a remote peer set these, so they are not sent back
	collision.SetProperty("disabled", true)
	diffEngine.Absorb("/disabled", true)

	shape, _ := classes.NewObject("CircleShape2D")
	collision.SetProperty("shape", shape)
	diffEngine.AbsorbObject(shape, "/shape")

	assert.Equal(t, len(diffEngine.Pass(collision, ".")), 0)

	collision.SetProperty("shape", nil)
	diffEngine.Absorb("/shape", nil)
	assert.Equal(t, len(diffEngine.Pass(collision, ".")), 0)
}
