package commands

import (
	"fmt"

	"github.com/danmuck/spreadctl/internal/config"
	"github.com/spf13/cobra"
)

var (
	templateKind  string
	overwriteFile bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "writes and checks client config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "writes a config template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(args[0], templateKind, overwriteFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", templateKind, args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "strictly parses and validates a config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClientConfig(args[0])
		if err != nil {
			return err
		}
		sc, err := cfg.Spread()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: address=%s security_mode=%s groups=%v\n",
			sc.Address, sc.SecurityMode, cfg.NormalizedGroups())
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&templateKind, "kind", "development", "template kind: development|production")
	configInitCmd.Flags().BoolVar(&overwriteFile, "force", false, "overwrite an existing file")
}
