package explorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/stats"
	"github.com/numtide/cctree/tree"
)

// Refresh rebuilds the tree from scratch and installs it once complete, then notifies subscribers.
//
// A missing project root or database is not an error: the tree is emptied and the state becomes Unresolved.
// A database that cannot be read or parsed leaves the tree empty and returns the error, wrapping a
// *compdb.ParseError where decoding failed. Records which cannot be placed in the tree are skipped.
func (e *Explorer) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	summary, err := e.rebuild()

	e.stats.Add(stats.Records, summary.Records)
	e.stats.Add(stats.Skipped, summary.Skipped)

	// subscribers may refresh again, so refreshLock must be released by now
	if err != nil {
		e.stats.Add(stats.Failed, 1)
		e.log.Errorf("failed to refresh: %v", err)
		e.publish(Event{Kind: Errored, Err: err})

		return err
	}

	e.stats.Add(stats.Refreshed, 1)

	e.log.Debugf(
		"refreshed %s: %d records, %d files, %d folders, %d excluded, %d skipped",
		summary.Database, summary.Records, summary.Files, summary.Folders, summary.Excluded, summary.Skipped,
	)

	e.publish(Event{Kind: Refreshed})

	return nil
}

// rebuild builds a fresh tree and installs it, one rebuild at a time.
func (e *Explorer) rebuild() (Summary, error) {
	e.refreshLock.Lock()
	defer e.refreshLock.Unlock()

	// readers keep seeing the previous tree until the new one is installed
	next := tree.NewBuilder()

	summary, signature, err := e.build(next)

	state := Unresolved
	if summary.Database != "" {
		state = Loaded
	}

	e.lock.Lock()
	e.builder = next
	e.state = state
	e.summary = summary
	e.signature = signature
	e.lock.Unlock()

	return summary, err
}

// RefreshIfChanged refreshes only if another database is now located or the located one changed size or modification
// time since the last refresh.
func (e *Explorer) RefreshIfChanged(ctx context.Context) (bool, error) {
	if e.root == "" {
		return false, nil
	}

	e.lock.RLock()
	current := e.summary.Database
	signature := e.signature
	e.lock.RUnlock()

	path, err := compdb.Locate(e.root, e.candidates...)
	if errors.Is(err, compdb.ErrNotFound) {
		if current == "" {
			return false, nil
		}
	} else if err != nil {
		return false, fmt.Errorf("failed to locate database: %w", err)
	} else if path == current {
		latest, err := compdb.Stat(path)
		if err == nil && bytes.Equal(latest, signature) {
			return false, nil
		}
	}

	return true, e.Refresh(ctx)
}

func (e *Explorer) build(builder *tree.Builder) (summary Summary, signature []byte, err error) {
	if e.root == "" {
		e.log.Debug(ErrWorkspaceUnavailable)

		return summary, nil, nil
	}

	if info, err := os.Stat(e.root); err != nil || !info.IsDir() {
		e.log.Debugf("%v: %s is not a directory", ErrWorkspaceUnavailable, e.root)

		return summary, nil, nil
	}

	path, err := compdb.Locate(e.root, e.candidates...)
	if errors.Is(err, compdb.ErrNotFound) {
		e.log.Debug(err)

		return summary, nil, nil
	} else if err != nil {
		return summary, nil, fmt.Errorf("failed to locate database: %w", err)
	}

	summary.Database = path

	// taken before reading so a concurrent rewrite is picked up by the next poll
	signature, err = compdb.Stat(path)
	if err != nil {
		e.log.Warnf("failed to stat database: %v", err)
	}

	records, err := e.loader.Load(path)
	if err != nil {
		return summary, signature, fmt.Errorf("failed to load database: %w", err)
	}

	summary.Records = len(records)

	for idx, record := range records {
		file := record.AbsPath()

		if e.excluded(file) {
			summary.Excluded++

			continue
		}

		resolution, err := e.resolve(file)
		if err == nil {
			err = builder.Insert(resolution.Segments, resolution.Leaf, file, record)
		}

		if err != nil {
			e.log.Debugf("skipping record %d: %v", idx, err)
			summary.Skipped++
		}
	}

	summary.Files = builder.Len()
	summary.Folders = builder.Folders()

	return summary, signature, nil
}

func (e *Explorer) resolve(path string) (tree.Resolution, error) {
	if e.rootFolder {
		return tree.Resolve(e.root, path)
	}

	return tree.ResolveWithin(e.root, path)
}

// excluded matches the path relative to the project root as well as the absolute path.
func (e *Explorer) excluded(path string) bool {
	if len(e.excludes) == 0 || path == "" {
		return false
	}

	candidates := []string{filepath.ToSlash(path)}
	if rel, err := filepath.Rel(e.root, path); err == nil {
		candidates = append(candidates, filepath.ToSlash(rel))
	}

	for _, g := range e.excludes {
		for _, candidate := range candidates {
			if g.Match(candidate) {
				return true
			}
		}
	}

	return false
}
