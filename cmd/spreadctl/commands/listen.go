package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/spreadctl/internal/admin"
	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/spread"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "joins groups and prints every delivered message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := resolveSettings(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runListen(ctx, s, cmd.OutOrStdout())
	},
}

func resolveSettings(cmd *cobra.Command) (settings, error) {
	s, err := loadSettings(flags.config)
	if err != nil {
		return settings{}, err
	}
	return s.apply(flags, cmd.Flags().Changed)
}

// runListen returns nil once ctx is done; the session is disconnected first.
func runListen(ctx context.Context, s settings, out io.Writer) error {
	sess, err := spread.Connect(ctx, s.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, g := range s.Groups {
		if err := sess.Join(ctx, g); err != nil {
			return fmt.Errorf("join %s: %w", g, err)
		}
	}

	var srv *admin.Server
	if s.Admin.Addr != "" {
		srv = admin.New("spreadctl", s.Admin)
		srv.SetSession(sess)
		go func() {
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", s.Admin.Addr).Msg("admin server stopped")
			}
		}()
	}

	// Close unblocks Receive when ctx ends.
	stopClose := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stopClose()

	for {
		msg, err := sess.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if srv != nil {
			srv.Observe(msg)
		}
		printMessage(out, msg)
	}
}

func printMessage(out io.Writer, msg frame.Message) {
	if msg.ServiceType.IsMembership() {
		fmt.Fprintf(out, "membership %s group=%s members=[%s]\n",
			msg.ServiceType, msg.Sender, strings.Join(msg.Groups, " "))
		return
	}
	fmt.Fprintf(out, "%s from=%s to=[%s] %q\n",
		msg.ServiceType, msg.Sender, strings.Join(msg.Groups, " "), msg.Data)
}
