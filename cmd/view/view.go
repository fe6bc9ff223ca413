package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/compdb/cache"
	"github.com/numtide/cctree/config"
	"github.com/numtide/cctree/explorer"
	"github.com/numtide/cctree/opener"
	"github.com/numtide/cctree/printer"
	"github.com/numtide/cctree/stats"
	"github.com/numtide/cctree/tree"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
)

var (
	ErrNotInTree = errors.New("path not found in tree")
	ErrNotAFile  = errors.New("path is a folder")
)

// session is an Explorer along with the resources opened for it.
type session struct {
	*explorer.Explorer

	cfg       *config.Config
	editorErr error
	closers   []func() error
}

func (s *session) Close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			log.Errorf("failed to close: %v", err)
		}
	}
}

func newSession(cfg *config.Config, statz *stats.Stats) (*session, error) {
	s := &session{cfg: cfg}

	excludes, err := explorer.CompileGlobs(cfg.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile excludes: %w", err)
	}

	var loader compdb.Loader = compdb.FileLoader{}

	if cfg.NoCache {
		if cfg.ClearCache {
			if err = cache.Remove(cfg.ProjectRoot); err != nil {
				return nil, fmt.Errorf("failed to clear cache: %w", err)
			}
		}
	} else if db, err := cache.Open(cfg.ProjectRoot, cfg.ClearCache); err != nil {
		// if we can't open the cache, we log a warning and fallback to no cache
		log.Warnf("failed to open cache: %v", err)
	} else {
		loader = cache.NewCachedLoader(db, loader)
		s.closers = append(s.closers, db.Close)
	}

	options := []explorer.Option{
		explorer.WithCandidates(cfg.Databases...),
		explorer.WithExcludes(excludes...),
		explorer.WithCodeExtensions(cfg.CodeExtensions...),
		explorer.WithRootFolder(cfg.RootFolder),
		explorer.WithLoader(loader),
		explorer.WithStats(statz),
	}

	env := expand.ListEnviron(os.Environ()...)

	editor, err := opener.NewEditor(cfg.Editor, cfg.ProjectRoot, env)
	if err != nil {
		// only an error once something needs opening
		log.Debugf("no editor available: %v", err)
		s.editorErr = err
	} else {
		log.Debugf("opening files with %s", editor.Executable())
		options = append(options, explorer.WithOpener(editor))
	}

	s.Explorer = explorer.New(cfg.ProjectRoot, options...)
	s.closers = append(s.closers, s.Explorer.Close)

	return s, nil
}

// notifyContext returns a context which is cancelled on SIGINT or SIGTERM.
func notifyContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(exit)

		select {
		case <-exit:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Run prints the tree and, in watch mode, prints it again every time it is refreshed until interrupted.
func Run(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command) error {
	cmd.SilenceUsage = true

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s, err := newSession(cfg, statz)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := notifyContext()
	defer cancel()

	out := cmd.OutOrStdout()

	// serialises printing, refreshes may come from the watcher and the poller at the same time
	var printLock sync.Mutex

	reprint := func() {
		printLock.Lock()
		defer printLock.Unlock()

		if err := s.print(out); err != nil {
			log.Errorf("failed to print tree: %v", err)
		}
	}

	// a failed refresh is fatal unless watching, where the next change gets another attempt
	if err = s.Refresh(ctx); err != nil && !cfg.Watch {
		return fmt.Errorf("failed to build tree: %w", err)
	}

	if s.State() == explorer.Unresolved {
		log.Warnf("no compile commands database found in %s, looked for %v", cfg.ProjectRoot, cfg.Databases)
	}

	reprint()

	if !cfg.Watch {
		if cfg.Verbose > 0 {
			statz.Print(out)
		}

		return nil
	}

	// (re)start watching whenever a database shows up without a watch in place
	located := make(chan struct{}, 1)

	unsubscribe := s.Subscribe(func(event explorer.Event) {
		if event.Kind != explorer.Refreshed {
			return
		}

		reprint()

		if s.DatabasePath() != "" && !s.Watching() {
			select {
			case located <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			if err := s.Watch(ctx); err != nil {
				return fmt.Errorf("failed to watch database: %w", err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-located:
			}
		}
	})

	if cfg.Poll != "" {
		eg.Go(func() error {
			return s.Poll(ctx, cfg.Poll)
		})
	} else if s.DatabasePath() == "" {
		log.Warn("nothing to watch until a database is found, consider --poll")
	}

	err = eg.Wait()

	if cfg.Verbose > 0 {
		statz.Print(out)
	}

	return err //nolint:wrapcheck
}

func (s *session) print(w io.Writer) error {
	title := s.cfg.ProjectRoot
	if database := s.DatabasePath(); database != "" {
		if rel, err := filepath.Rel(title, database); err == nil {
			title = fmt.Sprintf("%s (%s)", title, rel)
		}
	}

	if err := printer.Fprint(w, title, s); err != nil {
		return fmt.Errorf("failed to render tree: %w", err)
	}

	return nil
}

// Open refreshes the tree and opens the file found at treePath, either a path within the tree such as src/main.c or
// the absolute path of a file in the tree.
func Open(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command, treePath string) error {
	cmd.SilenceUsage = true

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s, err := newSession(cfg, statz)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := notifyContext()
	defer cancel()

	if err = s.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to build tree: %w", err)
	}

	names, err := s.names(treePath)
	if err != nil {
		return err
	}

	node := s.Find(names...)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNotInTree, treePath)
	} else if node.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotAFile, treePath)
	}

	if s.editorErr != nil {
		return fmt.Errorf("failed to open %s: %w", node.Path(), s.editorErr)
	}

	return s.OpenFile(ctx, node.Path()) //nolint:wrapcheck
}

// names turns treePath into the names leading to its node.
func (s *session) names(treePath string) ([]string, error) {
	if !filepath.IsAbs(treePath) {
		return strings.Split(filepath.ToSlash(filepath.Clean(treePath)), "/"), nil
	}

	resolve := tree.ResolveWithin
	if s.cfg.RootFolder {
		resolve = tree.Resolve
	}

	resolution, err := resolve(s.cfg.ProjectRoot, treePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInTree, treePath)
	}

	names := make([]string, 0, len(resolution.Segments))

	for _, segment := range resolution.Segments {
		if segment != "" {
			names = append(names, segment)
		}
	}

	return append(names, resolution.Leaf), nil
}
