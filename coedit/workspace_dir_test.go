package coedit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDirFiles(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, ".godot"), 0755)
	os.WriteFile(filepath.Join(root, ".godot", "cache"), []byte{}, 0644)
	os.WriteFile(filepath.Join(root, "project.godot"), []byte("[application]"), 0644)

	files, err := NewDirFilesWithDefaults(root)
	assert.Equal(t, err, nil)

	err = files.WriteFile("res://scripts/player.gd", "extends Node2D")
	assert.Equal(t, err, nil)
	paths, err := files.ListFiles()
	assert.Equal(t, err, nil)
	assert.Equal(t, paths, []string{"res://project.godot", "res://scripts/player.gd"})

	contents, err := files.ReadFile("res://scripts/player.gd")
	assert.Equal(t, err, nil)
	assert.Equal(t, contents, "extends Node2D")
	size, err := files.FileSize("res://scripts/player.gd")
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(14))
	assert.Equal(t, files.FileExists("res://scripts"), false)

	err = files.RenameFile("res://scripts/player.gd", "res://actors/player.gd")
	assert.Equal(t, err, nil)
	assert.Equal(t, files.FileExists("res://scripts/player.gd"), false)
	assert.Equal(t, files.FileExists("res://actors/player.gd"), true)

	err = files.DeleteFile("res://actors/player.gd")
	assert.Equal(t, err, nil)
	err = files.DeleteFile("res://actors/player.gd")
	assert.Equal(t, errors.Is(err, os.ErrNotExist), true)

	// paths stay inside the project
	_, err = files.ReadFile("/etc/passwd")
	assert.Equal(t, errors.Is(err, ErrPathEscapesProject), true)
	_, err = files.ReadFile("res://")
	assert.Equal(t, errors.Is(err, ErrPathEscapesProject), true)
	err = files.WriteFile("res://../outside.gd", "")
	assert.Equal(t, err, nil)
	_, err = os.Stat(filepath.Join(root, "outside.gd"))
	assert.Equal(t, err, nil)

	_, err = NewDirFilesWithDefaults(filepath.Join(root, "project.godot"))
	assert.NotEqual(t, err, nil)
}

func TestDirFilesWatcher(t *testing.T) {
	files, err := NewDirFilesWithDefaults(t.TempDir())
	assert.Equal(t, err, nil)
	watcher := NewFilesystemWatcherWithDefaults(files)

	_, previous, err := watcher.listFiles()
	assert.Equal(t, err, nil)
	files.WriteFile("res://a.gd", "")
	watcher.scan(previous)
	created, deleted := watcher.Drain()
	assert.Equal(t, created, []string{"res://a.gd"})
	assert.Equal(t, deleted, []string{})
}
