// Package cmd is the mmbot command line interface. Local verbs manage
// the daemon process through its pidfile; remote verbs talk to a
// running daemon over the control socket.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	"mmbot/config"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitUnknown = 2
	ExitRuntime = 3
	ExitVerbose = 100
)

var (
	cfgPath string
	dryRun  bool
	verbose bool
)

// exitError carries an explicit process exit code out of a RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "mmbot",
	Short:         "Automated market-making bot",
	Long:          "mmbot quotes both sides of configured pairs through external broker adapters,\nkeeps a persistent trade journal per trader and renders a periodic report.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if verbose {
			logs.SetDefault(logs.New(logs.LevelDebug))
		}
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	if ee, ok := err.(*exitError); ok {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return ExitUsage
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "mmbot.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry_run", "t", false, "force every trader behind an emulator; no real orders")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging (foreground only)")
}

// loadConfig maps config problems to the config exit code.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, exitf(ExitUnknown, "%v", err)
	}
	return cfg, nil
}

// instFile is required by everything that needs the pidfile or the
// control socket.
func instFile(cfg *config.Config) (string, error) {
	if cfg.Service.InstFile == "" {
		return "", exitf(ExitUnknown, "config: service.inst_file is required")
	}
	return cfg.Service.InstFile, nil
}
