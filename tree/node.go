package tree

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/numtide/cctree/compdb"
)

type Kind int

const (
	Folder Kind = iota
	File
)

func (k Kind) String() string {
	switch k {
	case Folder:
		return "folder"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Node is a single entry in the tree: either a Folder with children, or a File carrying the records it came from.
// Nodes are owned by a Builder, consumers only read them.
type Node struct {
	kind Kind
	name string

	// files only
	path    string
	records []compdb.Record

	// folders only, keyed by name in first-seen order
	children *linkedhashmap.Map
}

func newFolder(name string) *Node {
	return &Node{
		kind:     Folder,
		name:     name,
		children: linkedhashmap.New(),
	}
}

func newFile(name string, path string, record compdb.Record) *Node {
	return &Node{
		kind:    File,
		name:    name,
		path:    path,
		records: []compdb.Record{record},
	}
}

// Name is a single path segment, never a full path.
func (n *Node) Name() string {
	return n.name
}

func (n *Node) Kind() Kind {
	return n.kind
}

func (n *Node) IsDir() bool {
	return n.kind == Folder
}

// Path returns the absolute path of a File, or an empty string for a Folder.
func (n *Node) Path() string {
	return n.path
}

// Record returns the first record seen for a File.
func (n *Node) Record() compdb.Record {
	if len(n.records) == 0 {
		return compdb.Record{}
	}

	return n.records[0]
}

// Records returns every record which resolved to this File, in database order.
func (n *Node) Records() []compdb.Record {
	result := make([]compdb.Record, len(n.records))
	copy(result, n.records)

	return result
}

// Len returns the number of direct children.
func (n *Node) Len() int {
	if n.children == nil {
		return 0
	}

	return n.children.Size()
}

func (n *Node) child(name string) *Node {
	if n.children == nil {
		return nil
	}

	value, ok := n.children.Get(name)
	if !ok {
		return nil
	}

	return value.(*Node) //nolint:forcetypeassert
}

func (n *Node) add(child *Node) {
	n.children.Put(child.name, child)
}

func (n *Node) list() []*Node {
	if n.children == nil {
		return []*Node{}
	}

	values := n.children.Values()

	result := make([]*Node, len(values))
	for i, value := range values {
		result[i] = value.(*Node) //nolint:forcetypeassert
	}

	return result
}
