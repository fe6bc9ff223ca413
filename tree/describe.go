package tree

import (
	"path/filepath"
	"strings"
)

// OpenFileCommand is the command name attached to File items.
const OpenFileCommand = "cctree.openFile"

type Icon string

const (
	IconFolder Icon = "folder"
	IconFile   Icon = "file"
	IconCode   Icon = "code"
)

type CollapsibleState int

const (
	None CollapsibleState = iota
	Collapsed
	Expanded
)

// DefaultCodeExtensions are the extensions rendered with IconCode.
//
//nolint:gochecknoglobals
var DefaultCodeExtensions = []string{".c", ".cpp", ".h", ".hpp"}

// Action is what a host should do when an item is activated.
type Action struct {
	Command string
	Title   string
	Path    string
}

// Item is the presentation of a Node.
type Item struct {
	Label  string
	Icon   Icon
	State  CollapsibleState
	Action *Action
}

// Describer maps nodes to items.
type Describer struct {
	// CodeExtensions are matched case-insensitively, including the leading dot.
	CodeExtensions []string
	// Collapsed renders folders collapsed instead of expanded.
	Collapsed bool
}

func (d Describer) Describe(node *Node) Item {
	if node == nil {
		return Item{}
	}

	if node.IsDir() {
		state := None
		if node.Len() > 0 {
			state = Expanded
			if d.Collapsed {
				state = Collapsed
			}
		}

		return Item{
			Label: node.name,
			Icon:  IconFolder,
			State: state,
		}
	}

	return Item{
		Label: node.name,
		Icon:  d.icon(node.name),
		State: None,
		Action: &Action{
			Command: OpenFileCommand,
			Title:   "Open File",
			Path:    node.path,
		},
	}
}

func (d Describer) icon(name string) Icon {
	extensions := d.CodeExtensions
	if extensions == nil {
		extensions = DefaultCodeExtensions
	}

	ext := filepath.Ext(name)
	if ext == "" {
		return IconFile
	}

	for _, candidate := range extensions {
		if strings.EqualFold(ext, candidate) {
			return IconCode
		}
	}

	return IconFile
}
