package test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/config"
	cp "github.com/otiai10/copy"
	"github.com/stretchr/testify/require"
)

// ExamplesPaths are the compiled sources of the example project, in database order.
//
//nolint:gochecknoglobals
var ExamplesPaths = []string{
	"src/main.c",
	"src/util/strings.c",
	"lib/net/socket.cpp",
	"lib/net/http.cpp",
	"tests/test_main.cpp",
}

func WriteConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create a new config file: %v", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err = encoder.Encode(cfg); err != nil {
		t.Fatalf("failed to write to config file: %v", err)
	}
}

// WriteDatabase writes records as a compile commands database at path, creating parent directories as needed.
func WriteDatabase(t *testing.T, path string, records []compdb.Record) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "failed to create database directory")

	bytes, err := json.MarshalIndent(records, "", "  ")
	require.NoError(t, err, "failed to marshal records")

	require.NoError(t, os.WriteFile(path, bytes, 0o600), "failed to write database")
}

// Records returns one record per path, each relative to root.
func Records(root string, paths ...string) []compdb.Record {
	records := make([]compdb.Record, len(paths))

	for i, path := range paths {
		abs := filepath.Join(root, path)
		records[i] = compdb.Record{
			Directory: filepath.Join(root, "build"),
			File:      abs,
			Command:   fmt.Sprintf("cc -c %s", abs),
		}
	}

	return records
}

// TempExamples copies the example project into a temporary directory and writes a database for it under build/.
func TempExamples(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	TempExamplesInDir(t, tempDir)

	return tempDir
}

func TempExamplesInDir(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, cp.Copy("../test/examples", dir), "failed to copy test data to dir")

	WriteDatabase(t, filepath.Join(dir, "build", compdb.FileName), Records(dir, ExamplesPaths...))
}

func TempFile(t *testing.T, dir string, pattern string, contents *string) *os.File {
	t.Helper()

	file, err := os.CreateTemp(dir, pattern)
	require.NoError(t, err, "failed to create temp file")

	if contents == nil {
		return file
	}

	_, err = file.WriteString(*contents)
	require.NoError(t, err, "failed to write contents to temp file")
	require.NoError(t, file.Close(), "failed to close temp file")

	file, err = os.Open(file.Name())
	require.NoError(t, err, "failed to open temp file")

	return file
}

// Bump moves the modification time of path forward, so signature based change detection can't miss a rewrite that
// happened within the same timestamp granularity.
func Bump(t *testing.T, path string, by time.Duration) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err, "failed to stat %s", path)

	modTime := info.ModTime().Add(by)
	require.NoError(t, os.Chtimes(path, modTime, modTime), "failed to change times of %s", path)
}

// ChangeWorkDir changes the current working directory for the duration of the test.
// The original directory is restored when the test ends.
func ChangeWorkDir(t *testing.T, dir string) {
	t.Helper()

	// testing.T.Chdir requires go 1.24, so save and restore the working directory by hand.
	cwd, err := os.Getwd()
	require.NoError(t, err, "failed to get current working directory")

	require.NoError(t, os.Chdir(dir), "failed to change working directory to %s", dir)

	t.Cleanup(func() {
		require.NoError(t, os.Chdir(cwd), "failed to restore working directory to %s", cwd)
	})
}

// ReplaceFile swaps the contents of path in one rename, the way build tools rewrite a database.
func ReplaceFile(t *testing.T, path string, contents []byte) {
	t.Helper()

	temp, err := os.CreateTemp(filepath.Dir(path), ".replace-*")
	require.NoError(t, err, "failed to create temp file")

	_, err = temp.Write(contents)
	require.NoError(t, err, "failed to write temp file")
	require.NoError(t, temp.Close(), "failed to close temp file")

	require.NoError(t, os.Rename(temp.Name(), path), "failed to replace %s", path)
}

// ReplaceDatabase is ReplaceFile for a set of records.
func ReplaceDatabase(t *testing.T, path string, records []compdb.Record) {
	t.Helper()

	bytes, err := json.MarshalIndent(records, "", "  ")
	require.NoError(t, err, "failed to marshal records")

	ReplaceFile(t, path, bytes)
}
