package compdb

import (
	"path/filepath"
)

// Record is a single entry of a compile commands database.
// Only File takes part in building the tree, the rest is carried along as payload.
type Record struct {
	Directory string   `json:"directory"           msgpack:"directory"`
	File      string   `json:"file"                msgpack:"file"`
	Target    string   `json:"target,omitempty"    msgpack:"target,omitempty"`
	Command   string   `json:"command,omitempty"   msgpack:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty" msgpack:"arguments,omitempty"`
	Output    string   `json:"output,omitempty"    msgpack:"output,omitempty"`
}

// AbsPath returns the absolute path of the compiled file.
// A relative File is interpreted against Directory, which is how compilers record it.
func (r Record) AbsPath() string {
	if r.File == "" || filepath.IsAbs(r.File) {
		return r.File
	}

	if r.Directory == "" {
		return r.File
	}

	return filepath.Join(r.Directory, r.File)
}
