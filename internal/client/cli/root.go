package cli

import (
	"bufio"
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	DSN        string
	Server     string
	Token      string
	Verbose    bool
}

// NewRootCommand creates the schedctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	app := &App{opts: opts}

	cmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operate the nostr post scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.DSN != "" {
				cfg.DatabaseDSN = opts.DSN
			}

			level := cfg.LogLevel
			if opts.Verbose {
				level = "debug"
			}

			app.cfg = cfg
			app.logger = logging.NewWithWriter(cmd.ErrOrStderr(), level)
			app.in = bufio.NewReader(cmd.InOrStdin())
			app.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (JSON or YAML)")
	cmd.PersistentFlags().StringVarP(&opts.DSN, "dsn", "d", "", "database DSN, overrides the config")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "control API base URL (default derived from the HTTP address)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "control API bearer token (default minted from the control secret)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newMigrateCommand(app))
	cmd.AddCommand(newAccountsCommand(app))
	cmd.AddCommand(newKeysCommand(app))
	cmd.AddCommand(newScheduleCommand(app))
	cmd.AddCommand(newPublishNowCommand(app))
	cmd.AddCommand(newSignCommand(app))

	return cmd
}
