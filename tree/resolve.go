package tree

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrMalformedRecord is returned for a record which cannot be placed in the tree, e.g. one with an empty path.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNameConflict is returned when a name is already taken at the same level by a different kind of node or by
	// a different file.
	ErrNameConflict = errors.New("name conflict")
)

// Resolution is the position of a file within the tree.
type Resolution struct {
	// Segments are the directory names leading to the file. The first segment is always empty and stands for the
	// root itself.
	Segments []string
	// Leaf is the file name.
	Leaf string
}

// Resolve places path relative to the parent of projectRoot, so the project root is the single top level folder.
// It never touches the filesystem.
func Resolve(projectRoot string, path string) (Resolution, error) {
	return resolve(filepath.Dir(projectRoot), path)
}

// ResolveWithin places path relative to projectRoot itself, so the root's immediate children are the top level.
// Paths outside the root resolve to a chain of ".." folders.
func ResolveWithin(projectRoot string, path string) (Resolution, error) {
	return resolve(projectRoot, path)
}

func resolve(base string, path string) (Resolution, error) {
	if path == "" {
		return Resolution{}, fmt.Errorf("%w: empty file path", ErrMalformedRecord)
	} else if !filepath.IsAbs(path) {
		return Resolution{}, fmt.Errorf("%w: file path %q is not absolute", ErrMalformedRecord, path)
	}

	relPath, err := filepath.Rel(base, path)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: failed to determine a relative path for %s: %v", ErrMalformedRecord, path, err)
	}

	// anything outside the base still gets an absolute looking shape
	sep := string(filepath.Separator)
	if !strings.HasPrefix(relPath, sep) {
		relPath = sep + relPath
	}

	parts := strings.Split(relPath, sep)
	leaf := parts[len(parts)-1]

	switch leaf {
	case "", ".", "..":
		return Resolution{}, fmt.Errorf("%w: %s does not name a file below %s", ErrMalformedRecord, path, base)
	}

	return Resolution{
		Segments: parts[:len(parts)-1],
		Leaf:     leaf,
	}, nil
}
