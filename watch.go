package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/matt-g-everett/animtx/stream"
)

const reloadDelay = 200 * time.Millisecond

// watchSource reloads the animation at path whenever it changes on disk.
// The parent directory is watched since editors often save by replacing
// the file. Bursts of events within reloadDelay cause one reload.
func watchSource(ctx context.Context, path string, streamer *stream.Streamer, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	reload := func() {
		cmd, err := stream.ControlMessage{Type: "load", Path: path}.Command()
		if err != nil {
			log.Warn("changed source rejected", "path", path, "err", err)
			return
		}
		if !streamer.Submit(cmd) {
			log.Warn("control queue full, reload dropped", "path", path)
		}
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(reloadDelay, reload)
				} else {
					timer.Reset(reloadDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("source watch error", "err", err)
			}
		}
	}()

	log.Info("watching source", "path", path)
	return nil
}
