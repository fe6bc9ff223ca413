package explorer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/explorer"
	"github.com/numtide/cctree/stats"
	"github.com/numtide/cctree/test"
	"github.com/numtide/cctree/tree"
	"github.com/stretchr/testify/require"
)

// recorder collects published events.
type recorder struct {
	lock   sync.Mutex
	events []explorer.Event
}

func (r *recorder) record(event explorer.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) kinds() []explorer.EventKind {
	r.lock.Lock()
	defer r.lock.Unlock()

	kinds := make([]explorer.EventKind, len(r.events))
	for i, event := range r.events {
		kinds[i] = event.Kind
	}

	return kinds
}

func (r *recorder) count(kind explorer.EventKind) int {
	count := 0

	for _, k := range r.kinds() {
		if k == kind {
			count++
		}
	}

	return count
}

func names(nodes []*tree.Node) []string {
	result := make([]string, len(nodes))
	for i, node := range nodes {
		result[i] = node.Name()
	}

	return result
}

// flatten lists every node as its tree path, in walk order.
func flatten(t *testing.T, e *explorer.Explorer) []string {
	t.Helper()

	var paths []string

	require.NoError(t, e.Walk(func(names []string, _ *tree.Node) error {
		paths = append(paths, filepath.Join(names...))

		return nil
	}))

	return paths
}

func TestRefresh(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)

	rec := &recorder{}
	e := explorer.New(root)
	e.Subscribe(rec.record)

	as.Equal(explorer.Unresolved, e.State())
	as.Empty(e.Children(nil))

	as.NoError(e.Refresh(context.Background()))

	as.Equal(explorer.Loaded, e.State())
	as.Equal(filepath.Join(root, "build", compdb.FileName), e.DatabasePath())
	as.Equal([]explorer.EventKind{explorer.Refreshed}, rec.kinds())

	top := e.Children(nil)
	as.Equal([]string{"src", "lib", "tests"}, names(top))
	as.Equal([]string{"main.c", "util"}, names(e.Children(top[0])))

	strings := e.Find("src", "util", "strings.c")
	as.NotNil(strings)
	as.Equal(filepath.Join(root, "src", "util", "strings.c"), strings.Path())
	as.Equal(filepath.Join(root, "build"), strings.Record().Directory)

	as.Equal(explorer.Summary{
		Database: e.DatabasePath(),
		Records:  5,
		Files:    5,
		Folders:  5,
	}, e.Summary())
}

func TestRefreshRootFolder(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)

	e := explorer.New(root, explorer.WithRootFolder(true))
	as.NoError(e.Refresh(context.Background()))

	top := e.Children(nil)
	as.Equal([]string{filepath.Base(root)}, names(top))
	as.Equal([]string{"src", "lib", "tests"}, names(e.Children(top[0])))
	as.NotNil(e.Find(filepath.Base(root), "lib", "net", "http.cpp"))
}

func TestRefreshWithoutRoot(t *testing.T) {
	as := require.New(t)

	rec := &recorder{}
	e := explorer.New("")
	e.Subscribe(rec.record)

	as.NoError(e.Refresh(context.Background()))
	as.Equal(explorer.Unresolved, e.State())
	as.Empty(e.DatabasePath())
	as.Empty(e.Children(nil))
	as.Equal(1, rec.count(explorer.Refreshed))

	// a root which does not exist is treated the same
	e = explorer.New(filepath.Join(t.TempDir(), "missing"))
	as.NoError(e.Refresh(context.Background()))
	as.Equal(explorer.Unresolved, e.State())
	as.Empty(e.Children(nil))
}

func TestRefreshWithoutDatabase(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	database := filepath.Join(root, "build", compdb.FileName)

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))
	as.Equal(5, e.Len())

	// removing the database empties the tree
	as.NoError(os.Remove(database))
	as.NoError(e.Refresh(context.Background()))

	as.Equal(explorer.Unresolved, e.State())
	as.Empty(e.DatabasePath())
	as.Empty(e.Children(nil))
	as.Equal(0, e.Len())
}

func TestRefreshParseError(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	database := filepath.Join(root, "build", compdb.FileName)

	statz := stats.New()
	rec := &recorder{}

	e := explorer.New(root, explorer.WithStats(&statz))
	e.Subscribe(rec.record)

	as.NoError(e.Refresh(context.Background()))
	as.Equal(5, e.Len())

	as.NoError(os.WriteFile(database, []byte(`[{"directory": "/p", "file": `), 0o600))

	err := e.Refresh(context.Background())
	as.Error(err)

	var parseErr *compdb.ParseError
	as.ErrorAs(err, &parseErr)
	as.Equal(database, parseErr.Path)

	// the previous tree is gone, not kept around
	as.Empty(e.Children(nil))
	as.Equal(0, e.Len())
	as.Equal(database, e.DatabasePath())

	as.Equal([]explorer.EventKind{explorer.Refreshed, explorer.Errored}, rec.kinds())
	as.Equal(1, statz.Value(stats.Refreshed))
	as.Equal(1, statz.Value(stats.Failed))

	// fixing the database recovers
	test.WriteDatabase(t, database, test.Records(root, test.ExamplesPaths...))
	as.NoError(e.Refresh(context.Background()))
	as.Equal(5, e.Len())
}

func TestRefreshFromSubscriber(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	database := filepath.Join(root, "build", compdb.FileName)

	as.NoError(os.WriteFile(database, []byte("not json"), 0o600))

	e := explorer.New(root)

	// retry once on failure
	var retrying atomic.Bool

	retried := make(chan error, 1)

	unsubscribe := e.Subscribe(func(event explorer.Event) {
		if event.Kind != explorer.Errored {
			return
		}

		if retrying.CompareAndSwap(false, true) {
			retried <- e.Refresh(context.Background())
		}
	})
	defer unsubscribe()

	done := make(chan error, 1)

	go func() {
		done <- e.Refresh(context.Background())
	}()

	select {
	case err := <-done:
		as.Error(err)
	case <-time.After(5 * time.Second):
		as.FailNow("refresh from a subscriber blocked")
	}

	var parseErr *compdb.ParseError
	as.ErrorAs(<-retried, &parseErr)

	// a later refresh recovers once the database is fixed
	test.WriteDatabase(t, database, test.Records(root, test.ExamplesPaths...))
	as.NoError(e.Refresh(context.Background()))
	as.Equal(5, e.Len())
	as.Equal(explorer.Loaded, e.State())
}

func TestRefreshIdempotent(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))

	first := flatten(t, e)
	firstSummary := e.Summary()

	as.NoError(e.Refresh(context.Background()))

	as.Equal(first, flatten(t, e))
	as.Equal(firstSummary, e.Summary())
}

func TestRefreshReplacesTree(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	database := filepath.Join(root, "build", compdb.FileName)

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))

	src := e.Find("src")
	as.NotNil(src)

	test.WriteDatabase(t, database, test.Records(root, "src/other.c"))
	as.NoError(e.Refresh(context.Background()))

	// nothing from the previous database survives
	as.Equal([]string{"src"}, names(e.Children(nil)))
	as.Equal([]string{"other.c"}, names(e.Children(e.Find("src"))))
	as.NotSame(src, e.Find("src"))

	// nodes handed out earlier still describe the old tree
	as.Equal([]string{"main.c", "util"}, names(e.Children(src)))
}

func TestRefreshPrecedence(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	test.WriteDatabase(t, filepath.Join(root, compdb.FileName), test.Records(root, "include/net.hpp"))

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))

	as.Equal(filepath.Join(root, compdb.FileName), e.DatabasePath())
	as.Equal([]string{"include/net.hpp"}, flatten(t, e)[1:])

	// custom candidates are tried in the given order
	e = explorer.New(root, explorer.WithCandidates("build/"+compdb.FileName, compdb.FileName))
	as.NoError(e.Refresh(context.Background()))

	as.Equal(filepath.Join(root, "build", compdb.FileName), e.DatabasePath())
	as.Equal(5, e.Len())
}

func TestRefreshExcludes(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)

	globs, err := explorer.CompileGlobs([]string{"tests/*", "**/net/http.cpp"})
	as.NoError(err)

	e := explorer.New(root, explorer.WithExcludes(globs...))
	as.NoError(e.Refresh(context.Background()))

	as.Equal([]string{"src", "lib"}, names(e.Children(nil)))
	as.Nil(e.Find("lib", "net", "http.cpp"))
	as.NotNil(e.Find("lib", "net", "socket.cpp"))

	summary := e.Summary()
	as.Equal(5, summary.Records)
	as.Equal(3, summary.Files)
	as.Equal(2, summary.Excluded)
	as.Equal(0, summary.Skipped)

	_, err = explorer.CompileGlobs([]string{"[unterminated"})
	as.Error(err)
}

func TestRefreshSkipsRecords(t *testing.T) {
	as := require.New(t)

	root := t.TempDir()

	records := test.Records(root, "src/a.c", "src/b.c", "src/a.c")
	records = append(records,
		// no file at all
		compdb.Record{Directory: root},
		// a file where a folder already is
		compdb.Record{Directory: root, File: filepath.Join(root, "src")},
		// a folder where a file already is
		compdb.Record{Directory: root, File: filepath.Join(root, "src", "b.c", "c.c")},
		// relative to its directory
		compdb.Record{Directory: filepath.Join(root, "lib"), File: "d.c"},
	)

	statz := stats.New()

	test.WriteDatabase(t, filepath.Join(root, compdb.FileName), records)

	e := explorer.New(root, explorer.WithStats(&statz))
	as.NoError(e.Refresh(context.Background()))

	as.Equal([]string{"src", "src/a.c", "src/b.c", "lib", "lib/d.c"}, flatten(t, e))

	// the duplicate is attached to the same file
	as.Len(e.Find("src", "a.c").Records(), 2)

	summary := e.Summary()
	as.Equal(7, summary.Records)
	as.Equal(3, summary.Files)
	as.Equal(3, summary.Skipped)

	as.Equal(7, statz.Value(stats.Records))
	as.Equal(3, statz.Value(stats.Skipped))
}

func TestRefreshOutsideRoot(t *testing.T) {
	as := require.New(t)

	parent := t.TempDir()
	root := filepath.Join(parent, "project")
	as.NoError(os.MkdirAll(root, 0o755))

	test.WriteDatabase(t, filepath.Join(root, compdb.FileName), []compdb.Record{
		{Directory: root, File: filepath.Join(root, "main.c")},
		{Directory: root, File: filepath.Join(parent, "vendor", "lib.c")},
	})

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))

	as.Equal([]string{"main.c", "..", "../vendor", "../vendor/lib.c"}, flatten(t, e))
	as.Equal(filepath.Join(parent, "vendor", "lib.c"), e.Find("..", "vendor", "lib.c").Path())
}

func TestRefreshCancelled(t *testing.T) {
	as := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := explorer.New(test.TempExamples(t))
	as.ErrorIs(e.Refresh(ctx), context.Canceled)
	as.Equal(explorer.Unresolved, e.State())
}

func TestRefreshIfChanged(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	database := filepath.Join(root, "build", compdb.FileName)

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))

	changed, err := e.RefreshIfChanged(context.Background())
	as.NoError(err)
	as.False(changed)

	test.WriteDatabase(t, database, test.Records(root, "src/main.c"))
	test.Bump(t, database, time.Second)

	changed, err = e.RefreshIfChanged(context.Background())
	as.NoError(err)
	as.True(changed)
	as.Equal(1, e.Len())

	// a database appearing in a preferred location
	test.WriteDatabase(t, filepath.Join(root, compdb.FileName), test.Records(root, "src/main.c", "include/net.hpp"))

	changed, err = e.RefreshIfChanged(context.Background())
	as.NoError(err)
	as.True(changed)
	as.Equal(filepath.Join(root, compdb.FileName), e.DatabasePath())
	as.Equal(2, e.Len())

	// and every database disappearing
	as.NoError(os.Remove(filepath.Join(root, compdb.FileName)))
	as.NoError(os.Remove(database))

	changed, err = e.RefreshIfChanged(context.Background())
	as.NoError(err)
	as.True(changed)
	as.Equal(explorer.Unresolved, e.State())

	changed, err = e.RefreshIfChanged(context.Background())
	as.NoError(err)
	as.False(changed)
}

func TestDescribe(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)

	e := explorer.New(root, explorer.WithCodeExtensions(".cpp"))
	as.NoError(e.Refresh(context.Background()))

	item := e.Describe(e.Find("lib"))
	as.Equal("lib", item.Label)
	as.Equal(tree.IconFolder, item.Icon)
	as.Equal(tree.Expanded, item.State)
	as.Nil(item.Action)

	item = e.Describe(e.Find("lib", "net", "http.cpp"))
	as.Equal(tree.IconCode, item.Icon)
	as.Equal(tree.None, item.State)
	as.Equal(&tree.Action{
		Command: tree.OpenFileCommand,
		Title:   "Open File",
		Path:    filepath.Join(root, "lib", "net", "http.cpp"),
	}, item.Action)

	// only the configured extensions count as code
	as.Equal(tree.IconFile, e.Describe(e.Find("src", "main.c")).Icon)
}

func TestCollapseAll(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	rec := &recorder{}

	e := explorer.New(root)
	as.NoError(e.Refresh(context.Background()))
	e.Subscribe(rec.record)

	src := e.Find("src")

	e.CollapseAll()
	as.Equal(tree.Collapsed, e.Describe(src).State)
	as.Equal(tree.None, e.Describe(e.Find("src", "main.c")).State)

	// no rebuild, the same nodes are still in place
	as.Same(src, e.Find("src"))

	e.ExpandAll()
	as.Equal(tree.Expanded, e.Describe(src).State)

	as.Equal([]explorer.EventKind{explorer.Collapsed, explorer.Expanded}, rec.kinds())
}

func TestSubscribe(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	first, second := &recorder{}, &recorder{}

	e := explorer.New(root)

	unsubscribe := e.Subscribe(first.record)
	e.Subscribe(second.record)

	as.NoError(e.Refresh(context.Background()))

	unsubscribe()
	unsubscribe()

	as.NoError(e.Refresh(context.Background()))

	as.Equal(1, first.count(explorer.Refreshed))
	as.Equal(2, second.count(explorer.Refreshed))
}

type fakeOpener struct {
	opened []string
	err    error
}

func (f *fakeOpener) Open(_ context.Context, path string) error {
	f.opened = append(f.opened, path)

	return f.err
}

func TestOpenFile(t *testing.T) {
	as := require.New(t)

	root := test.TempExamples(t)
	path := filepath.Join(root, "src", "main.c")

	e := explorer.New(root)
	as.ErrorIs(e.OpenFile(context.Background(), path), explorer.ErrNoOpener)

	opener := &fakeOpener{}

	e = explorer.New(root, explorer.WithOpener(opener))
	as.NoError(e.OpenFile(context.Background(), path))
	as.Equal([]string{path}, opener.opened)

	opener.err = errors.New("boom")
	as.ErrorIs(e.OpenFile(context.Background(), path), opener.err)
}

func TestStateString(t *testing.T) {
	as := require.New(t)

	as.Equal("unresolved", explorer.Unresolved.String())
	as.Equal("loaded", explorer.Loaded.String())
	as.Equal("refreshed", explorer.Refreshed.String())
	as.Equal("errored", explorer.Errored.String())
}
