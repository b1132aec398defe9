package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/spreadctl/internal/spread"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "multicasts one payload to the given groups and disconnects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := resolveSettings(cmd)
		if err != nil {
			return err
		}
		fromStdin, _ := cmd.Flags().GetBool("stdin")
		var payload []byte
		switch {
		case fromStdin:
			payload, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		case len(args) == 1:
			payload = []byte(args[0])
		default:
			return fmt.Errorf("payload argument or --stdin required")
		}
		return runSend(cmd.Context(), s, payload)
	},
}

func runSend(ctx context.Context, s settings, payload []byte) error {
	if len(s.Groups) == 0 {
		return spread.ErrNoGroups
	}
	sess, err := spread.Connect(ctx, s.Session)
	if err != nil {
		return err
	}
	if err := sess.Multicast(ctx, s.Groups, payload); err != nil {
		_ = sess.Close()
		return err
	}
	log.Info().
		Str("private_name", sess.PrivateName()).
		Strs("groups", s.Groups).
		Int("bytes", len(payload)).
		Msg("payload sent")
	return sess.Close()
}
