package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-playground/validator/v10"
	"github.com/numtide/cctree/compdb"
	"github.com/numtide/cctree/tree"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileNames are the config file names searched for, in order.
//
//nolint:gochecknoglobals
var FileNames = []string{"cctree.toml", ".cctree.toml"}

// Config holds everything needed to build and watch a tree.
type Config struct {
	ClearCache       bool     `mapstructure:"clear-cache"     toml:"-"` // not allowed in config
	CodeExtensions   []string `mapstructure:"code-extensions" toml:"code-extensions,omitempty" validate:"dive,startswith=."`
	Databases        []string `mapstructure:"databases"       toml:"databases,omitempty"       validate:"min=1,dive,required"`
	Editor           string   `mapstructure:"editor"          toml:"editor,omitempty"`
	Excludes         []string `mapstructure:"excludes"        toml:"excludes,omitempty"        validate:"dive,required"`
	NoCache          bool     `mapstructure:"no-cache"        toml:"-"` // not allowed in config
	Poll             string   `mapstructure:"poll"            toml:"poll,omitempty"`
	ProjectRoot      string   `mapstructure:"project-root"    toml:"project-root,omitempty"`
	Quiet            bool     `mapstructure:"quiet"           toml:"-"`
	RootFolder       bool     `mapstructure:"root-folder"     toml:"root-folder,omitempty"`
	Verbose          uint8    `mapstructure:"verbose"         toml:"verbose,omitempty"`
	Watch            bool     `mapstructure:"watch"           toml:"-"` // not allowed in config
	WorkingDirectory string   `mapstructure:"working-dir"     toml:"-"`
}

// SetFlags appends our flags to the provided flag set.
// We have a flag matching most entries in Config, taking care to ensure the name matches the field name defined in the
// mapstructure tag.
// We rely on a flag's default value being provided in the event the same value was not specified in the config file.
func SetFlags(fs *pflag.FlagSet) {
	fs.BoolP(
		"clear-cache", "c", false,
		"Reset the database cache. (env $CCTREE_CLEAR_CACHE)",
	)
	fs.StringSlice(
		"code-extensions", nil,
		"File extensions shown with the code icon. Defaults to .c, .cpp, .h and .hpp. (env $CCTREE_CODE_EXTENSIONS)",
	)
	fs.StringSliceP(
		"databases", "d", nil,
		"Candidate database paths relative to the project root, in order of precedence. Defaults to "+
			"compile_commands.json then build/compile_commands.json. (env $CCTREE_DATABASES)",
	)
	fs.String(
		"editor", "",
		"Command used to open files, defaults to $VISUAL or $EDITOR. (env $CCTREE_EDITOR)",
	)
	fs.StringSlice(
		"excludes", nil,
		"Leave out files matching the specified globs. (env $CCTREE_EXCLUDES)",
	)
	fs.Bool(
		"no-cache", false,
		"Ignore the database cache entirely. (env $CCTREE_NO_CACHE)",
	)
	fs.String(
		"poll", "",
		"Also check the database for changes on a cron schedule e.g. '@every 30s'. (env $CCTREE_POLL)",
	)
	fs.String(
		"project-root", "",
		"The project root the tree is relative to (defaults to the directory containing the config file, "+
			"then the enclosing git work tree, then the working directory). (env $CCTREE_PROJECT_ROOT)",
	)
	fs.BoolP(
		"quiet", "q", false,
		"Only log errors. (env $CCTREE_QUIET)",
	)
	fs.Bool(
		"root-folder", false,
		"Show the project root as a single top level folder. (env $CCTREE_ROOT_FOLDER)",
	)
	fs.CountP(
		"verbose", "v",
		"Set the verbosity of logs e.g. -vv. (env $CCTREE_VERBOSE)",
	)
	fs.BoolP(
		"watch", "w", false,
		"Keep running and print the tree again whenever the database changes. (env $CCTREE_WATCH)",
	)
	fs.StringP(
		"working-dir", "C", ".",
		"Run as if cctree was started in the specified working directory instead of the current working "+
			"directory. (env $CCTREE_WORKING_DIR)",
	)
}

// NewViper creates a Viper instance pre-configured with the following options:
// * TOML config type
// * automatic env enabled
// * `CCTREE_` env prefix for environment variables
// * replacement of `-` and `.` with `_` when mapping flags to env e.g. `project-root` => `CCTREE_PROJECT_ROOT`.
func NewViper() (*viper.Viper, error) {
	v := viper.New()

	// Enforce toml (may open this up to other formats in the future)
	v.SetConfigType("toml")

	// Allow env overrides for config and flags.
	v.SetEnvPrefix("cctree")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	return v, nil
}

// FromViper takes a viper instance and produces a Config instance.
func FromViper(v *viper.Viper) (*Config, error) {
	configReset := map[string]any{
		"clear-cache": false,
		"no-cache":    false,
		"watch":       false,
		"working-dir": ".",
	}

	// reset certain values which are not allowed to be specified in the config file
	if err := v.MergeConfigMap(configReset); err != nil {
		return nil, fmt.Errorf("failed to overwrite config values: %w", err)
	}

	// read config from viper
	var err error

	cfg := &Config{}

	if err = v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// resolve the working directory to an absolute path
	cfg.WorkingDirectory, err = filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for working directory: %w", err)
	}

	// determine the project root
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = defaultProjectRoot(v, cfg.WorkingDirectory)
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(cfg.WorkingDirectory, cfg.ProjectRoot)
	}

	cfg.ProjectRoot = filepath.Clean(cfg.ProjectRoot)

	if len(cfg.Databases) == 0 {
		cfg.Databases = compdb.DefaultCandidates
	}

	if len(cfg.CodeExtensions) == 0 {
		cfg.CodeExtensions = tree.DefaultCodeExtensions
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	l := log.WithPrefix("config")
	l.Infof("project root = %s", cfg.ProjectRoot)

	return cfg, nil
}

// Validate checks the struct tags of cfg along with the poll schedule.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Poll != "" {
		if _, err := cron.ParseStandard(cfg.Poll); err != nil {
			return fmt.Errorf("invalid poll schedule '%s': %w", cfg.Poll, err)
		}
	}

	return nil
}

func defaultProjectRoot(v *viper.Viper, workingDir string) string {
	// the directory containing the config file
	if configFile := v.ConfigFileUsed(); configFile != "" {
		if path, err := filepath.Abs(configFile); err == nil {
			return filepath.Dir(path)
		}
	}

	// the enclosing git work tree
	if root, err := GitRoot(workingDir); err == nil {
		return root
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		log.Debugf("failed to determine git work tree: %v", err)
	}

	return workingDir
}

// GitRoot returns the root of the git work tree containing dir.
func GitRoot(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("failed to open git repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get git worktree: %w", err)
	}

	return wt.Filesystem.Root(), nil
}

func FindUp(searchDir string, fileNames ...string) (path string, dir string, err error) {
	for _, dir := range eachDir(searchDir) {
		for _, f := range fileNames {
			path := filepath.Join(dir, f)
			if fileExists(path) {
				return path, dir, nil
			}
		}
	}

	return "", "", fmt.Errorf("could not find %s in %s", fileNames, searchDir)
}

func eachDir(path string) (paths []string) {
	path, err := filepath.Abs(path)
	if err != nil {
		return
	}

	paths = []string{path}

	if path == "/" {
		return
	}

	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == os.PathSeparator {
			path = path[:i]
			if path == "" {
				path = "/"
			}

			paths = append(paths, path)
		}
	}

	return
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
