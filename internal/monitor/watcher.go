package monitor

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher produces change notifications for a single file.
type FileWatcher interface {
	Watch(path string) (Watch, error)
}

// Watch delivers a value on Events whenever the file may have grown. Bursts
// coalesce into one pending notification. Events is closed after Close.
type Watch interface {
	Events() <-chan struct{}
	Close() error
}

// FSWatcher implements FileWatcher with fsnotify.
type FSWatcher struct{}

func (FSWatcher) Watch(path string) (Watch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	fw := &fsWatch{
		watcher: w,
		events:  make(chan struct{}, 1),
	}
	go fw.loop()
	return fw, nil
}

type fsWatch struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
}

func (fw *fsWatch) loop() {
	defer close(fw.events)
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				select {
				case fw.events <- struct{}{}:
				default:
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] %v", err)
		}
	}
}

func (fw *fsWatch) Events() <-chan struct{} { return fw.events }

func (fw *fsWatch) Close() error { return fw.watcher.Close() }
