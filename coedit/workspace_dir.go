package coedit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

var ErrPathEscapesProject = errors.New("Path escapes the project.")

type DirFilesSettings struct {
	// directory names that are never listed
	SkipDirs []string
}

func DefaultDirFilesSettings() *DirFilesSettings {
	return &DirFilesSettings{
		SkipDirs: []string{".git", ".godot", ".import"},
	}
}

// Project files on disk. `res://a/b.gd` is `<root>/a/b.gd`.
type DirFiles struct {
	root     string
	settings *DirFilesSettings
}

func NewDirFilesWithDefaults(root string) (*DirFiles, error) {
	return NewDirFiles(root, DefaultDirFilesSettings())
}

func NewDirFiles(root string, settings *DirFilesSettings) (*DirFiles, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}
	return &DirFiles{
		root:     absRoot,
		settings: settings,
	}, nil
}

func (self *DirFiles) Root() string {
	return self.root
}

func (self *DirFiles) localPath(resPath string) (string, error) {
	if !strings.HasPrefix(resPath, ResPrefix) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesProject, resPath)
	}
	relPath := path.Clean("/" + strings.TrimPrefix(resPath, ResPrefix))
	if relPath == "/" {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesProject, resPath)
	}
	localPath := filepath.Join(self.root, filepath.FromSlash(relPath))
	if !strings.HasPrefix(localPath, self.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesProject, resPath)
	}
	return localPath, nil
}

func (self *DirFiles) resPath(localPath string) (string, error) {
	relPath, err := filepath.Rel(self.root, localPath)
	if err != nil {
		return "", err
	}
	return ResPrefix + filepath.ToSlash(relPath), nil
}

// regular files in lexical order
func (self *DirFiles) ListFiles() ([]string, error) {
	paths := []string{}
	err := filepath.WalkDir(self.root, func(localPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			if localPath == self.root {
				return err
			}
			// removed mid walk
			glog.V(2).Infof("[dir]walk %s error = %s\n", localPath, err)
			return nil
		}
		if entry.IsDir() {
			if localPath != self.root && slices.Contains(self.settings.SkipDirs, entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		resPath, err := self.resPath(localPath)
		if err != nil {
			return err
		}
		paths = append(paths, resPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (self *DirFiles) ReadFile(resPath string) (string, error) {
	localPath, err := self.localPath(resPath)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (self *DirFiles) WriteFile(resPath string, contents string) error {
	localPath, err := self.localPath(resPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte(contents), 0644)
}

func (self *DirFiles) DeleteFile(resPath string) error {
	localPath, err := self.localPath(resPath)
	if err != nil {
		return err
	}
	return os.Remove(localPath)
}

func (self *DirFiles) RenameFile(from string, to string) error {
	fromPath, err := self.localPath(from)
	if err != nil {
		return err
	}
	toPath, err := self.localPath(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(toPath), 0755); err != nil {
		return err
	}
	return os.Rename(fromPath, toPath)
}

func (self *DirFiles) FileExists(resPath string) bool {
	localPath, err := self.localPath(resPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(localPath)
	return err == nil && info.Mode().IsRegular()
}

func (self *DirFiles) FileSize(resPath string) (int64, error) {
	localPath, err := self.localPath(resPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// there is no editor to notify
func (self *DirFiles) Rescan() {
	glog.V(2).Infof("[dir]rescan %s\n", self.root)
}
