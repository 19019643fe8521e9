package coedit

import (
	"strings"

	"github.com/golang/glog"
)

// A lone deletion paired with a lone creation is reported as a rename.
// Paths whose final extension has a dash are editor temp files
// (`a.gd.tmp-1234`) and are never treated as a rename.
func DetectRename(created []string, deleted []string) (*RenameFile, bool) {
	if len(created) != 1 || len(deleted) != 1 {
		return nil, false
	}
	from := deleted[0]
	to := created[0]
	if from == to {
		return nil, false
	}
	if strings.Contains(FileExtension(from), "-") || strings.Contains(FileExtension(to), "-") {
		return nil, false
	}
	return &RenameFile{
		From: from,
		To:   to,
	}, true
}

func (self *Synchronizer) filterRemoteFileEchoes(paths []string) []string {
	filtered := []string{}
	for _, path := range paths {
		if consumeEcho(self.remoteFileEchoes, path, self.settings.RemoteEchoWindow) {
			glog.V(2).Infof("[sync]skip remote change %s\n", path)
			continue
		}
		filtered = append(filtered, path)
	}
	return filtered
}

// Sends the filesystem changes the watcher saw since the last tick.
func (self *Synchronizer) syncFilesystem() {
	created, deleted := self.watcher.Drain()
	created = self.filterRemoteFileEchoes(created)
	deleted = self.filterRemoteFileEchoes(deleted)
	if len(created) == 0 && len(deleted) == 0 {
		return
	}

	if rename, ok := DetectRename(created, deleted); ok {
		glog.V(1).Infof("[sync]rename %s -> %s\n", rename.From, rename.To)
		self.sendCall(BroadcastPeerId, rename)
		return
	}

	createdSet := map[string]bool{}
	for _, path := range created {
		createdSet[path] = true
	}
	deletedSet := map[string]bool{}
	for _, path := range deleted {
		deletedSet[path] = true
	}

	for _, path := range created {
		if deletedSet[path] {
			continue
		}
		contents, err := self.workspace.Files.ReadFile(path)
		if err != nil {
			glog.Infof("[sync]read %s error = %s\n", path, err)
			continue
		}
		self.sendCall(BroadcastPeerId, &ReceiveFileContents{
			Path:     path,
			Contents: contents,
		})
	}
	for _, path := range deleted {
		if createdSet[path] {
			continue
		}
		self.sendCall(BroadcastPeerId, &DeleteFile{
			Path: path,
		})
	}
}

func (self *Synchronizer) sendFilesystemManifest(target PeerId) {
	paths, err := self.workspace.Files.ListFiles()
	if err != nil {
		glog.Warningf("[sync]list files = %s\n", err)
		return
	}
	self.sendCall(target, &CompareFilesystem{
		PathList: paths,
		HostId:   self.LocalPeerId(),
	})
}
