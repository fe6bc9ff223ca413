package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/stats"
	"github.com/numtide/cctree/tree"
)

var (
	ErrWorkspaceUnavailable = errors.New("no project root available")
	ErrNoOpener             = errors.New("no opener configured")
)

// State is the lifecycle of the tree held by an Explorer.
type State int

const (
	// Unresolved means the last refresh found no project root or no database.
	Unresolved State = iota
	// Loaded means the last refresh located a database.
	Loaded
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type EventKind int

const (
	Refreshed EventKind = iota
	Collapsed
	Expanded
	Errored
)

func (k EventKind) String() string {
	switch k {
	case Refreshed:
		return "refreshed"
	case Collapsed:
		return "collapsed"
	case Expanded:
		return "expanded"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event tells subscribers the tree or its presentation changed and should be queried again.
type Event struct {
	Kind EventKind
	// Err is set for Errored events.
	Err error
}

// Opener opens a file for the user, e.g. in an editor.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// Summary describes the outcome of the last refresh.
type Summary struct {
	Database string
	Records  int
	Files    int
	Folders  int
	Excluded int
	Skipped  int
}

type Option func(*Explorer)

// WithCandidates overrides compdb.DefaultCandidates. Candidates are tried in order.
func WithCandidates(candidates ...string) Option {
	return func(e *Explorer) {
		if len(candidates) > 0 {
			e.candidates = candidates
		}
	}
}

// WithExcludes drops records whose file matches any of the globs.
func WithExcludes(globs ...glob.Glob) Option {
	return func(e *Explorer) {
		e.excludes = append(e.excludes, globs...)
	}
}

func WithCodeExtensions(extensions ...string) Option {
	return func(e *Explorer) {
		if len(extensions) > 0 {
			e.describer.CodeExtensions = extensions
		}
	}
}

// WithRootFolder places the project root itself at the top level instead of its children.
func WithRootFolder(enabled bool) Option {
	return func(e *Explorer) {
		e.rootFolder = enabled
	}
}

func WithLoader(loader compdb.Loader) Option {
	return func(e *Explorer) {
		e.loader = loader
	}
}

func WithOpener(opener Opener) Option {
	return func(e *Explorer) {
		e.opener = opener
	}
}

func WithStats(statz *stats.Stats) Option {
	return func(e *Explorer) {
		e.stats = statz
	}
}

// CompileGlobs compiles exclude patterns, using the path separator as the glob separator.
func CompileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, len(patterns))

	for i, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile glob pattern %q: %w", pattern, err)
		}

		globs[i] = g
	}

	return globs, nil
}

// Explorer keeps a tree of the files named by a project's compile commands database, rebuilding it whenever the
// database changes.
type Explorer struct {
	log *log.Logger

	root       string
	candidates []string
	excludes   []glob.Glob
	rootFolder bool

	loader compdb.Loader
	opener Opener
	stats  *stats.Stats

	// serialises refreshes
	refreshLock sync.Mutex

	// guards everything below
	lock      sync.RWMutex
	builder   *tree.Builder
	describer tree.Describer
	state     State
	summary   Summary
	signature []byte
	watcher   *fsnotify.Watcher
	closed    bool

	subsLock sync.Mutex
	subsSeq  int
	subs     []subscription
}

type subscription struct {
	id int
	fn func(Event)
}

// New creates an Explorer for the project rooted at root. An empty root is allowed and yields an empty tree.
// No I/O happens until Refresh is called.
func New(root string, options ...Option) *Explorer {
	statz := stats.New()

	e := &Explorer{
		log:        log.WithPrefix("explorer"),
		root:       root,
		candidates: compdb.DefaultCandidates,
		loader:     compdb.FileLoader{},
		stats:      &statz,
		builder:    tree.NewBuilder(),
		describer:  tree.Describer{CodeExtensions: tree.DefaultCodeExtensions},
	}

	for _, option := range options {
		option(e)
	}

	return e
}

func (e *Explorer) Root() string {
	return e.root
}

func (e *Explorer) State() State {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.state
}

// DatabasePath returns the database located by the last refresh, or an empty string.
func (e *Explorer) DatabasePath() string {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.summary.Database
}

func (e *Explorer) Summary() Summary {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.summary
}

// Children returns the children of node, or the top level nodes if node is nil.
func (e *Explorer) Children(node *tree.Node) []*tree.Node {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.builder.Children(node)
}

// Find returns the node at the given tree path, or nil.
func (e *Explorer) Find(names ...string) *tree.Node {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.builder.Find(names...)
}

func (e *Explorer) Walk(fn tree.WalkFunc) error {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.builder.Walk(fn)
}

// Len returns the number of files in the tree.
func (e *Explorer) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.builder.Len()
}

func (e *Explorer) Describe(node *tree.Node) tree.Item {
	e.lock.RLock()
	describer := e.describer
	e.lock.RUnlock()

	return describer.Describe(node)
}

func (e *Explorer) CollapseAll() {
	e.setCollapsed(true)
	e.publish(Event{Kind: Collapsed})
}

func (e *Explorer) ExpandAll() {
	e.setCollapsed(false)
	e.publish(Event{Kind: Expanded})
}

func (e *Explorer) setCollapsed(collapsed bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.describer.Collapsed = collapsed
}

// OpenFile hands path to the configured Opener.
func (e *Explorer) OpenFile(ctx context.Context, path string) error {
	if e.opener == nil {
		return ErrNoOpener
	}

	e.log.Debugf("opening %s", path)

	if err := e.opener.Open(ctx, path); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	return nil
}

// Subscribe registers fn to be called after every refresh and presentation change.
// fn is called without any lock held, on the goroutine which caused the change.
// The returned function removes the subscription and may be called more than once.
func (e *Explorer) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subsLock.Lock()
	defer e.subsLock.Unlock()

	e.subsSeq++
	id := e.subsSeq
	e.subs = append(e.subs, subscription{id: id, fn: fn})

	return func() {
		e.subsLock.Lock()
		defer e.subsLock.Unlock()

		for i, sub := range e.subs {
			if sub.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)

				return
			}
		}
	}
}

func (e *Explorer) publish(event Event) {
	e.subsLock.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.subsLock.Unlock()

	for _, sub := range subs {
		sub.fn(event)
	}
}

// Close stops an active Watch, later calls to Watch return straight away. The tree remains readable.
func (e *Explorer) Close() error {
	e.lock.Lock()
	watcher := e.watcher
	e.watcher = nil
	e.closed = true
	e.lock.Unlock()

	if watcher == nil {
		return nil
	}

	if err := watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	return nil
}
