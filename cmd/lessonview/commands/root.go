// Package commands implements the lessonview command line.
package commands

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lessonview",
	Short: "Serve and preview interactive lessons",
	Long: `lessonview turns lesson documents written in Markdown or YAML into
interactive pages with copyable code panels, simulated terminals,
diagrams and widgets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	log.SetFlags(0) // Remove timestamp from logs
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: <dir>/"+config.FileName+")")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Main runs the command line and returns the process exit code.
func Main() int {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig loads --config if given, else the config file in dir. It
// also returns the directory relative widget paths resolve against.
func loadConfig(dir string) (*config.Config, string, error) {
	path, configDir := filepath.Join(dir, config.FileName), dir
	if configPath != "" {
		path, configDir = configPath, filepath.Dir(configPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configDir, nil
}

// dirArg resolves the optional directory argument, defaulting to ".".
func dirArg(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("directory does not exist: %s", dir)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absDir, nil
}
