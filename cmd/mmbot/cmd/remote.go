package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmbot/ctrl"
)

// Remote verbs forward their arguments to the running daemon and adopt
// the daemon's reply code as the exit code.
var remoteVerbs = []struct {
	use   string
	short string
	args  cobra.PositionalArgs
}{
	{"logrotate", "Regenerate the report after log rotation", cobra.NoArgs},
	{"calc_range <trader>", "Show a trader's traded price band and holdings", cobra.ExactArgs(1)},
	{"get_all_pairs <broker>", "List the pairs a broker offers", cobra.ExactArgs(1)},
	{"erase_trade <trader> <trade-id>", "Remove one trade from a trader's journal", cobra.ExactArgs(2)},
	{"resync_trades_from <trader> <trade-id>", "Drop a trade and everything after it, then resync", cobra.ExactArgs(2)},
	{"reset <trader>", "Reset a trader's journal to its newest trade", cobra.ExactArgs(1)},
	{"achieve <trader> <price> <balance>", "Force the internal balance with a synthetic fill", cobra.ExactArgs(3)},
	{"repair <trader>", "Rebuild a trader's derived journal state", cobra.ExactArgs(1)},
	{"backtest <trader> [key=value ...]", "Replay the trader's chart with optional overrides", cobra.MinimumNArgs(1)},
}

func init() {
	for _, v := range remoteVerbs {
		v := v
		rootCmd.AddCommand(&cobra.Command{
			Use:   v.use,
			Short: v.short,
			Args:  v.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return callRemote(cmd.Name(), args)
			},
		})
	}
}

func callRemote(verb string, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	inst, err := instFile(cfg)
	if err != nil {
		return err
	}

	code, body, err := ctrl.NewClient(inst + ".sock").Call(verb, args...)
	if err != nil {
		return exitf(ExitRuntime, "%v (is the daemon running?)", err)
	}
	if code != ctrl.CodeOK {
		return exitf(code, "%s", body)
	}
	if body != "" {
		fmt.Println(body)
	}
	return nil
}
