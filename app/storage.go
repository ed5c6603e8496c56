package app

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/yaoapp/kun/log"
)

// StorageLoader watches a directory for new `.apk` binaries and hands
// each one off to a caller-supplied installer. This supplements what
// spec.md's STORAGE source only describes statically: on this
// platform, apps flashed to the storage partition after boot should be
// picked up without a restart.
type StorageLoader struct {
	dir      string
	watcher  *fsnotify.Watcher
	install  func(path string) error
	stopCh   chan struct{}
}

// NewStorageLoader builds a loader watching dir; install is called
// with the full path of each `.apk` file that appears.
func NewStorageLoader(dir string, install func(path string) error) (*StorageLoader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &StorageLoader{dir: dir, watcher: w, install: install, stopCh: make(chan struct{})}, nil
}

// Run blocks, dispatching install for every `.apk` create/write event,
// until Stop is called. Intended to run on its own goroutine.
func (s *StorageLoader) Run() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".apk" {
				continue
			}
			if err := s.install(ev.Name); err != nil {
				log.Error("devicecore: storage app install failed path=%s err=%v", ev.Name, err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error("devicecore: storage watcher error err=%v", err)
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the watch loop and releases the underlying fsnotify handle.
func (s *StorageLoader) Stop() {
	close(s.stopCh)
	s.watcher.Close()
}
