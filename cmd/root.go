package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/numtide/cctree/build"
	_init "github.com/numtide/cctree/cmd/init"
	"github.com/numtide/cctree/cmd/view"
	"github.com/numtide/cctree/config"
	"github.com/numtide/cctree/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRoot() (*cobra.Command, *stats.Stats) {
	var (
		cctreeInit bool
		configFile string
	)

	// create a viper instance for reading in config
	v, err := config.NewViper()
	if err != nil {
		cobra.CheckErr(fmt.Errorf("failed to create viper instance: %w", err))
	}

	// create a new stats instance
	statz := stats.New()

	// create our root command
	cmd := &cobra.Command{
		Use:     build.Name,
		Short:   "Browse the sources of a compile commands database as a tree",
		Version: build.Version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runE(v, &statz, cmd)
		},
	}

	// update version template
	cmd.SetVersionTemplate("cctree {{.Version}}\n")

	// we provide our own completion command
	cmd.CompletionOptions.DisableDefaultCmd = true

	// config flags are shared with every sub command
	fs := cmd.PersistentFlags()
	config.SetFlags(fs)

	// add a couple of special flags which don't have a corresponding entry in cctree.toml
	fs.StringVar(
		&configFile, "config-file", "",
		"Load the config file from the given path (defaults to searching upwards for cctree.toml or "+
			".cctree.toml). (env $CCTREE_CONFIG)",
	)
	cmd.Flags().BoolVarP(
		&cctreeInit, "init", "i", false,
		"Create a cctree.toml file in the current directory.",
	)

	// bind our command's flags to viper
	if err := v.BindPFlags(fs); err != nil {
		cobra.CheckErr(fmt.Errorf("failed to bind global config to viper: %w", err))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "open <path>",
			Short: "Open a file from the tree, given its path within the tree or its absolute path",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := readConfig(v, cmd); err != nil {
					return err
				}

				return view.Open(v, &statz, cmd, args[0]) //nolint:wrapcheck
			},
		},
		&cobra.Command{
			Use:       "completion <bash|zsh|fish>",
			Short:     "Generate shell completions",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"bash", "zsh", "fish"},
			RunE:      generateShellCompletions,
		},
	)

	return cmd, &statz
}

func runE(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command) error {
	flags := cmd.Flags()

	// check if we are running the init command
	if init, err := flags.GetBool("init"); err != nil {
		return fmt.Errorf("failed to read init flag: %w", err)
	} else if init {
		workingDir, err := filepath.Abs(v.GetString("working-dir"))
		if err != nil {
			return fmt.Errorf("failed to get absolute path for working directory: %w", err)
		}

		if err = _init.Run(workingDir, cmd.OutOrStdout()); err != nil {
			cmd.SilenceUsage = true

			return fmt.Errorf("failed to run init command: %w", err)
		}

		return nil
	}

	if err := readConfig(v, cmd); err != nil {
		return err
	}

	return view.Run(v, statz, cmd) //nolint:wrapcheck
}

// readConfig loads the config file, if there is one, and configures logging.
func readConfig(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.Flags()

	workingDir, err := filepath.Abs(v.GetString("working-dir"))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for working directory: %w", err)
	}

	// use the path specified by the flag
	configFile, err := flags.GetString("config-file")
	if err != nil {
		return fmt.Errorf("failed to read config-file flag: %w", err)
	}

	// fallback to env
	if configFile == "" {
		configFile = os.Getenv("CCTREE_CONFIG")
	}

	// search up from the working directory, a config file is optional
	if configFile == "" {
		configFile, _, _ = config.FindUp(workingDir, config.FileNames...)
	} else if !filepath.IsAbs(configFile) {
		configFile = filepath.Join(workingDir, configFile)
	}

	// configure logging
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(false)

	if v.GetBool("quiet") {
		// if quiet, we only log errors
		log.SetLevel(log.ErrorLevel)
	} else {
		// otherwise, the verbose flag controls the log level
		switch v.GetInt("verbose") {
		case 0:
			log.SetLevel(log.WarnLevel)
		case 1:
			log.SetLevel(log.InfoLevel)
		default:
			log.SetLevel(log.DebugLevel)
		}
	}

	if configFile == "" {
		log.Debug("no config file found, using defaults")

		return nil
	}

	log.Debugf("using config file: %s", configFile)

	// read in the config
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		cmd.SilenceUsage = true

		return fmt.Errorf("failed to read config file '%s': %w", configFile, err)
	}

	return nil
}
