package commands

import (
	"fmt"
	"os"

	"github.com/danmuck/spreadctl/internal/observability"
	"github.com/spf13/cobra"
)

var (
	Version   string
	BuildTime string
)

type sessionFlags struct {
	config      string
	addr        string
	name        string
	groups      []string
	proxy       string
	noMember    bool
	adminAddr   string
	readTimeout string
}

var flags sessionFlags

var rootCmd = &cobra.Command{
	Use:           "spreadctl",
	Short:         "spreadctl is a client for Spread group communication daemons",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitLogger("spreadctl")
	},
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spreadctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	for _, cmd := range []*cobra.Command{listenCmd, sendCmd} {
		f := cmd.Flags()
		f.StringVarP(&flags.config, "config", "c", "", "client config file (toml)")
		f.StringVar(&flags.addr, "addr", "", "daemon address host[:port]")
		f.StringVarP(&flags.name, "name", "n", "", "requested private name (at most 10 bytes)")
		f.StringVar(&flags.proxy, "proxy", "", "socks5:// proxy url")
		f.BoolVar(&flags.noMember, "no-membership", false, "do not ask for membership notifications")
	}
	listenCmd.Flags().StringSliceVarP(&flags.groups, "group", "g", nil, "group to join (repeatable)")
	listenCmd.Flags().StringVar(&flags.adminAddr, "admin", "", "serve the admin http surface on addr")
	listenCmd.Flags().StringVar(&flags.readTimeout, "read-timeout", "", "give up when no frame arrives within this duration")
	sendCmd.Flags().StringSliceVarP(&flags.groups, "group", "g", nil, "destination group (repeatable)")
	sendCmd.Flags().Bool("stdin", false, "read the payload from stdin")

	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(listenCmd, sendCmd, configCmd, versionCmd)
	return rootCmd
}
