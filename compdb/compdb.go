package compdb

import (
	"crypto/md5" //nolint:gosec
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileName is the conventional name of a compile commands database.
const FileName = "compile_commands.json"

// ErrNotFound is returned by Locate when none of the candidates exist.
var ErrNotFound = errors.New("compile commands database not found")

// DefaultCandidates lists where a database is looked for, relative to the project root, in order of precedence.
//
//nolint:gochecknoglobals
var DefaultCandidates = []string{
	FileName,
	filepath.Join("build", FileName),
}

// ParseError indicates a database file exists but its content is not a valid list of records.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse compile commands database %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader reads every record from a database file.
type Loader interface {
	Load(path string) ([]Record, error)
}

// FileLoader reads and decodes the database on every call.
type FileLoader struct{}

func (FileLoader) Load(path string) ([]Record, error) {
	return Load(path)
}

// Locate returns the cleaned path of the first candidate, relative to root, that exists as a regular file.
// If no candidates are given, DefaultCandidates are used.
func Locate(root string, candidates ...string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}

	for _, candidate := range candidates {
		path := filepath.Clean(candidate)
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, candidate)
		}

		if fileExists(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: looked for %v in %s", ErrNotFound, candidates, root)
}

// Load reads the full contents of the database at path and decodes it.
func Load(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open compile commands database %s: %w", path, err)
	}
	defer file.Close()

	records, err := Decode(file)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return records, nil
}

// Decode reads a JSON array of records from r.
// Anything other than a single array of objects is an error.
func Decode(r io.Reader) ([]Record, error) {
	decoder := json.NewDecoder(r)

	var records []Record
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	if records == nil {
		// a literal null is not a database
		return nil, errors.New("expected a JSON array of records, found null")
	}

	// trailing content after the array means the file is corrupt, e.g. a half-written rewrite
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected content after the record array")
	}

	return records, nil
}

// Signature summarises the on-disk state of a database, changing whenever its size or modification time does.
func Signature(info fs.FileInfo) []byte {
	h := md5.New() //nolint:gosec
	// add mod time and size
	h.Write([]byte(fmt.Sprintf("%v %v", info.ModTime().UnixNano(), info.Size())))

	return h.Sum(nil)
}

// Stat returns the current Signature of the database at path.
func Stat(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return Signature(info), nil
}

func fileExists(path string) bool {
	// Some broken filesystems like SSHFS return file information on stat() but
	// then cannot open the file. So we use os.Open.
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	// Next, check that the file is a regular file.
	fi, err := f.Stat()
	if err != nil {
		return false
	}

	return fi.Mode().IsRegular()
}
