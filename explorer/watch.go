package explorer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

const databaseOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watching reports whether a Watch is currently established.
func (e *Explorer) Watching() bool {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.watcher != nil
}

// Watch refreshes the tree whenever the database located by the last refresh is written, replaced or removed.
// Without a located database it returns immediately. It blocks until ctx is cancelled or Close is called.
//
// Refresh failures are logged and published as Errored events, the watch carries on.
func (e *Explorer) Watch(ctx context.Context) error {
	database := e.DatabasePath()
	if database == "" {
		e.log.Debug("no database located, nothing to watch")

		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// editors and build tools tend to replace the file, so watch the directory and filter by name
	dir := filepath.Dir(database)
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()

		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()

		return watcher.Close()
	}

	e.watcher = watcher
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		owned := e.watcher == watcher
		if owned {
			e.watcher = nil
		}
		e.lock.Unlock()

		// otherwise Close got there first
		if !owned {
			return
		}

		if err := watcher.Close(); err != nil {
			e.log.Errorf("failed to close watcher: %v", err)
		}
	}()

	e.log.Debugf("watching %s", database)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != database || event.Op&databaseOps == 0 {
				continue
			}

			e.log.Debugf("database changed: %v", event)

			// failures are logged and published by Refresh
			_ = e.Refresh(ctx)

			// follow the database if the refresh settled on another candidate
			located := e.DatabasePath()
			if located == "" || located == database {
				continue
			}

			if next := filepath.Dir(located); next != dir {
				if err := watcher.Add(next); err != nil {
					e.log.Errorf("failed to watch %s: %v", next, err)

					continue
				}

				_ = watcher.Remove(dir)
				dir = next
			}

			e.log.Infof("now watching %s", located)
			database = located

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			e.log.Warnf("watcher error: %v", err)
		}
	}
}

// Poll checks the database on the given cron schedule, e.g. "@every 30s", and refreshes when another database is
// located or the current one changed. Unlike Watch it also notices a database appearing for the first time.
// It blocks until ctx is cancelled.
func (e *Explorer) Poll(ctx context.Context, schedule string) error {
	logger := cronLogger{log: e.log}

	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)

	_, err := scheduler.AddFunc(schedule, func() {
		changed, err := e.RefreshIfChanged(ctx)
		if err != nil {
			e.log.Errorf("failed to poll database: %v", err)
		} else if changed {
			e.log.Debug("database changed since the last refresh")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poll %q: %w", schedule, err)
	}

	e.log.Debugf("polling with schedule %q", schedule)

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()

	return nil
}
