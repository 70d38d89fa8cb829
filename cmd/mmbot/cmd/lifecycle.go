package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runStop(cmd, args); err != nil {
			if ee, ok := err.(*exitError); !ok || ee.code != ExitRuntime {
				return err
			}
			// Not running counts as stopped.
		}
		return runStart(cmd, args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPid()
		if err != nil {
			return err
		}
		fmt.Printf("running (pid %d)\n", pid)
		return nil
	},
}

var pidofCmd = &cobra.Command{
	Use:   "pidof",
	Short: "Print the daemon's pid",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPid()
		if err != nil {
			return err
		}
		fmt.Println(pid)
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the daemon exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPid()
		if err != nil {
			return err
		}
		for processAlive(pid) {
			time.Sleep(500 * time.Millisecond)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd, pidofCmd, waitCmd)
}

// runStart re-execs this binary detached, running the foreground verb.
func runStart(cmd *cobra.Command, args []string) error {
	if verbose {
		return exitf(ExitVerbose, "verbose logging is not available in daemon mode; use run")
	}
	if pid, err := daemonPid(); err == nil {
		return exitf(ExitRuntime, "already running (pid %d)", pid)
	}

	self, err := os.Executable()
	if err != nil {
		return exitf(ExitRuntime, "%v", err)
	}
	childArgs := []string{"run", "-f", cfgPath}
	if dryRun {
		childArgs = append(childArgs, "-t")
	}
	child := exec.Command(self, childArgs...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return exitf(ExitRuntime, "start daemon: %v", err)
	}
	fmt.Printf("started (pid %d)\n", child.Process.Pid)
	return child.Process.Release()
}

func runStop(cmd *cobra.Command, args []string) error {
	pid, err := daemonPid()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return exitf(ExitRuntime, "stop pid %d: %v", pid, err)
	}
	deadline := time.Now().Add(30 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			return exitf(ExitRuntime, "pid %d did not exit", pid)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// daemonPid resolves the pidfile to a live process.
func daemonPid() (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}
	inst, err := instFile(cfg)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(inst + ".pid")
	if err != nil {
		return 0, exitf(ExitRuntime, "not running")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, exitf(ExitRuntime, "bad pidfile %s.pid", inst)
	}
	if !processAlive(pid) {
		return 0, exitf(ExitRuntime, "not running (stale pidfile)")
	}
	return pid, nil
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
