package init

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/numtide/cctree/config"
)

// We embed the sample toml file for use with the init flag.
//
//go:embed init.toml
var initBytes []byte

// Run writes a sample config file into dir, refusing to overwrite an existing one.
func Run(dir string, out io.Writer) error {
	path := filepath.Join(dir, config.FileNames[0])

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if _, err = file.Write(initBytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(out, "Generated %s. Now it's your turn to edit it.\n", config.FileNames[0])

	return nil
}
