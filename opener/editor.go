package opener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/shell"
)

var (
	// ErrNoEditor is returned when no command was given and neither $VISUAL nor $EDITOR are set.
	ErrNoEditor = errors.New("no editor configured, set $VISUAL or $EDITOR")
	// ErrCommandNotFound is returned when the editor command is not available.
	ErrCommandNotFound = errors.New("editor command not found in PATH")
)

// Editor opens files by running an editor command with the file path appended to its arguments.
type Editor struct {
	log        *log.Logger
	executable string
	args       []string
	workingDir string
}

func (e *Editor) Executable() string {
	return e.executable
}

func (e *Editor) Open(ctx context.Context, path string) error {
	args := make([]string, 0, len(e.args)+1)
	args = append(args, e.args...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, e.executable, args...) //nolint:gosec
	// replace the default Cancel handler installed by CommandContext because it sends SIGKILL (-9).
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.Dir = e.workingDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	e.log.Debugf("executing: %s", cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open %s with %s: %w", path, e.executable, err)
	}

	return nil
}

// NewEditor prepares an Editor from a shell style command line such as "code --wait".
// An empty command falls back to $VISUAL, then $EDITOR, as found in env.
func NewEditor(command string, workingDir string, env expand.Environ) (*Editor, error) {
	if command == "" {
		command = env.Get("VISUAL").String()
	}

	if command == "" {
		command = env.Get("EDITOR").String()
	}

	if command == "" {
		return nil, ErrNoEditor
	}

	fields, err := shell.Fields(command, func(name string) string {
		return env.Get(name).String()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse editor command '%s': %w", command, err)
	} else if len(fields) == 0 {
		return nil, ErrNoEditor
	}

	executable, err := interp.LookPathDir(workingDir, env, fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, fields[0])
	}

	return &Editor{
		log:        log.WithPrefix("opener"),
		executable: executable,
		args:       fields[1:],
		workingDir: workingDir,
	}, nil
}
