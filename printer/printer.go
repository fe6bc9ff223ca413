package printer

import (
	"fmt"
	"io"

	"github.com/ddddddO/gtree"
	"github.com/numtide/cctree/tree"
)

// Source is anything which can list and describe nodes.
type Source interface {
	Children(node *tree.Node) []*tree.Node
	Describe(node *tree.Node) tree.Item
}

// Fprint renders the nodes of src below a root labelled title.
// Folders are suffixed with a separator, collapsed folders are printed without their children.
func Fprint(w io.Writer, title string, src Source) error {
	type frame struct {
		parent *gtree.Node
		node   *tree.Node
	}

	root := gtree.NewRoot(title)

	var stack []frame

	push := func(parent *gtree.Node, nodes []*tree.Node) {
		for i := len(nodes) - 1; i >= 0; i-- {
			stack = append(stack, frame{parent: parent, node: nodes[i]})
		}
	}

	push(root, src.Children(nil))

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		item := src.Describe(current.node)

		folder := current.node.Kind() == tree.Folder

		label := item.Label
		if folder {
			label += "/"
		}

		added := current.parent.Add(label)

		if folder && item.State != tree.Collapsed {
			push(added, src.Children(current.node))
		}
	}

	if err := gtree.OutputProgrammably(w, root); err != nil {
		return fmt.Errorf("failed to print tree: %w", err)
	}

	return nil
}
