package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	"mmbot/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("fatal: %v", r)
			panic(r)
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, dryRun)
	if err != nil {
		return exitf(ExitRuntime, "%v", err)
	}
	if err := a.LoadTraders(); err != nil {
		a.Stop()
		return exitf(ExitUnknown, "%v", err)
	}

	var pidfile string
	if cfg.Service.InstFile != "" {
		pidfile = cfg.Service.InstFile + ".pid"
		if err := writePidfile(pidfile); err != nil {
			a.Stop()
			return exitf(ExitRuntime, "%v", err)
		}
		defer os.Remove(pidfile)
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return exitf(ExitRuntime, "%v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logs.Infof("received %v, shutting down", s)
	a.Stop()
	return nil
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
