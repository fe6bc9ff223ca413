package tree

import (
	"fmt"
	"path/filepath"

	"github.com/numtide/cctree/compdb"
)

// WalkFunc is called for every node visited by Walk. names holds the names from the top level down to and including
// node. Returning an error stops the walk.
type WalkFunc func(names []string, node *Node) error

// Builder owns a tree of nodes built from resolved records.
// It is not safe for concurrent use, callers serialise access.
type Builder struct {
	root *Node

	files   int
	folders int
}

func NewBuilder() *Builder {
	b := &Builder{}
	b.Reset()

	return b
}

// Reset discards every node. Nodes handed out before are left untouched.
func (b *Builder) Reset() {
	b.root = newFolder("")
	b.files = 0
	b.folders = 0
}

// Insert adds a File named leaf at the end of the folder chain given by segments, creating folders as needed.
// Existing folders are reused so their identity survives unrelated insertions. Inserting a path which is already
// present attaches record to the existing File.
//
// A malformed or conflicting insert returns an error and leaves the tree as it was.
func (b *Builder) Insert(segments []string, leaf string, path string, record compdb.Record) error {
	if leaf == "" {
		return fmt.Errorf("%w: empty file name for %q", ErrMalformedRecord, path)
	}

	// empty segments stand for the root, not for a folder
	names := make([]string, 0, len(segments))

	for _, segment := range segments {
		if segment != "" {
			names = append(names, segment)
		}
	}

	if err := b.check(names, leaf, path); err != nil {
		return err
	}

	current := b.root

	for _, name := range names {
		next := current.child(name)
		if next == nil {
			next = newFolder(name)
			current.add(next)
			b.folders++
		}

		current = next
	}

	if existing := current.child(leaf); existing != nil {
		existing.records = append(existing.records, record)

		return nil
	}

	current.add(newFile(leaf, path, record))
	b.files++

	return nil
}

// check follows the existing part of the chain and reports whether inserting would collide with another node.
func (b *Builder) check(names []string, leaf string, path string) error {
	current := b.root

	for _, name := range names {
		next := current.child(name)
		if next == nil {
			return nil
		} else if !next.IsDir() {
			return fmt.Errorf("%w: folder %q for %s is already a file", ErrNameConflict, name, path)
		}

		current = next
	}

	existing := current.child(leaf)

	switch {
	case existing == nil:
		return nil
	case existing.IsDir():
		return fmt.Errorf("%w: file %q for %s is already a folder", ErrNameConflict, leaf, path)
	case filepath.Clean(existing.path) != filepath.Clean(path):
		return fmt.Errorf("%w: file %q for %s is already used by %s", ErrNameConflict, leaf, path, existing.path)
	default:
		return nil
	}
}

// Children returns the children of node in insertion order, or the top level nodes if node is nil.
// The returned slice is a copy and may be modified freely.
func (b *Builder) Children(node *Node) []*Node {
	if node == nil {
		return b.root.list()
	}

	return node.list()
}

// Find returns the node reached by following names from the top level, or nil.
func (b *Builder) Find(names ...string) *Node {
	current := b.root

	for _, name := range names {
		if current = current.child(name); current == nil {
			return nil
		}
	}

	if current == b.root {
		return nil
	}

	return current
}

// Len returns the number of File nodes.
func (b *Builder) Len() int {
	return b.files
}

// Folders returns the number of Folder nodes.
func (b *Builder) Folders() int {
	return b.folders
}

// Walk visits every node depth first, parents before children, siblings in insertion order.
func (b *Builder) Walk(fn WalkFunc) error {
	type frame struct {
		names []string
		node  *Node
	}

	top := b.root.list()

	stack := make([]frame, 0, len(top))
	for i := len(top) - 1; i >= 0; i-- {
		stack = append(stack, frame{names: []string{top[i].name}, node: top[i]})
	}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.names, current.node); err != nil {
			return err
		}

		children := current.node.list()
		for i := len(children) - 1; i >= 0; i-- {
			names := make([]string, len(current.names)+1)
			copy(names, current.names)
			names[len(current.names)] = children[i].name

			stack = append(stack, frame{names: names, node: children[i]})
		}
	}

	return nil
}
