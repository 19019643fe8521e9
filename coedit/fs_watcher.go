package coedit

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

type FilesystemWatcherSettings struct {
	ScanInterval time.Duration
	// lowercase path suffixes that are never reported
	IgnoredSuffixes []string
}

func DefaultFilesystemWatcherSettings() *FilesystemWatcherSettings {
	return &FilesystemWatcherSettings{
		ScanInterval:    500 * time.Millisecond,
		IgnoredSuffixes: []string{"tmp", "ini"},
	}
}

// insertion ordered set
type pathSet struct {
	paths []string
	index map[string]bool
}

func newPathSet() *pathSet {
	return &pathSet{
		paths: []string{},
		index: map[string]bool{},
	}
}

func (self *pathSet) add(path string) {
	if !self.index[path] {
		self.index[path] = true
		self.paths = append(self.paths, path)
	}
}

// Scans the project files on its own goroutine and accumulates created and
// deleted paths until the tick drains them. The buffers and the stop flag share
// one lock, which is never held across a scan.
type FilesystemWatcher struct {
	files    ProjectFiles
	settings *FilesystemWatcherSettings
	log      LogFunction

	stateLock sync.Mutex
	created   *pathSet
	deleted   *pathSet
	stop      bool
	started   bool
	done      chan struct{}
}

func NewFilesystemWatcherWithDefaults(files ProjectFiles) *FilesystemWatcher {
	return NewFilesystemWatcher(files, DefaultFilesystemWatcherSettings())
}

func NewFilesystemWatcher(files ProjectFiles, settings *FilesystemWatcherSettings) *FilesystemWatcher {
	return &FilesystemWatcher{
		files:    files,
		settings: settings,
		log:      LogFn(LogLevelInfo, "[fs]"),
		created:  newPathSet(),
		deleted:  newPathSet(),
	}
}

func (self *FilesystemWatcher) ignored(path string) bool {
	lowerPath := strings.ToLower(path)
	for _, suffix := range self.settings.IgnoredSuffixes {
		if strings.HasSuffix(lowerPath, suffix) {
			return true
		}
	}
	return false
}

// listed paths in listing order, and as a set
func (self *FilesystemWatcher) listFiles() ([]string, map[string]bool, error) {
	paths, err := self.files.ListFiles()
	if err != nil {
		return nil, nil, err
	}
	ordered := []string{}
	listing := map[string]bool{}
	for _, path := range paths {
		if !self.ignored(path) && !listing[path] {
			ordered = append(ordered, path)
			listing[path] = true
		}
	}
	return ordered, listing, nil
}

// Takes the baseline listing synchronously, then scans in the background.
// A stopped watcher can be started again.
func (self *FilesystemWatcher) Start() error {
	_, previous, err := self.listFiles()
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	if self.started {
		self.stateLock.Unlock()
		return nil
	}
	self.started = true
	self.stop = false
	done := make(chan struct{})
	self.done = done
	self.stateLock.Unlock()

	self.log("start %d files", len(previous))
	go self.run(previous, done)
	return nil
}

func (self *FilesystemWatcher) Running() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.started && !self.stop
}

func (self *FilesystemWatcher) stopped() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.stop
}

func (self *FilesystemWatcher) run(previous map[string]bool, done chan struct{}) {
	defer close(done)

	for !self.stopped() {
		previous = self.scan(previous)

		// sleep in short steps so stop is joined promptly
		deadline := time.Now().Add(self.settings.ScanInterval)
		for time.Now().Before(deadline) {
			if self.stopped() {
				return
			}
			time.Sleep(min(10*time.Millisecond, time.Until(deadline)))
		}
	}
}

// one scan iteration. Returns the listing to diff the next scan against.
func (self *FilesystemWatcher) scan(previous map[string]bool) map[string]bool {
	paths, current, err := self.listFiles()
	if err != nil {
		glog.Infof("[fs]list error = %s\n", err)
		return previous
	}

	created := []string{}
	deleted := []string{}
	for _, path := range paths {
		if current[path] && !previous[path] {
			created = append(created, path)
		}
	}
	for path := range previous {
		if !current[path] {
			deleted = append(deleted, path)
		}
	}
	slices.Sort(deleted)

	if 0 < len(created) || 0 < len(deleted) {
		self.stateLock.Lock()
		for _, path := range created {
			self.created.add(path)
		}
		for _, path := range deleted {
			self.deleted.add(path)
		}
		self.stateLock.Unlock()
		glog.V(2).Infof("[fs]scan created=%v deleted=%v\n", created, deleted)
	}
	return current
}

// swaps out the accumulated sets. Each change is reported once.
func (self *FilesystemWatcher) Drain() (created []string, deleted []string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	created = self.created.paths
	deleted = self.deleted.paths
	self.created = newPathSet()
	self.deleted = newPathSet()
	return
}

// signals the scan loop and joins it
func (self *FilesystemWatcher) Stop() {
	self.stateLock.Lock()
	if !self.started {
		self.stateLock.Unlock()
		return
	}
	self.stop = true
	done := self.done
	self.stateLock.Unlock()

	<-done

	self.stateLock.Lock()
	self.started = false
	self.done = nil
	self.stateLock.Unlock()
	self.log("stop")
}
