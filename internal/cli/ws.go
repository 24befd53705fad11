package cli

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/txwire/internal/tui"
	"github.com/txwire/pkg/transport"
)

var (
	wsMessages []string
	wsWait     time.Duration
)

var wsCmd = &cobra.Command{
	Use:   "ws URL",
	Short: "Open a WebSocket session",
	Long: `Open a WebSocket session and print every message received.
Messages given with -m are sent in order; without -m, each line read from
stdin is sent as a text message until EOF.

Examples:
  txwire ws ws://localhost:8080/ws -m hello -m world
  echo hello | txwire ws ws://localhost:8080/ws`,
	Args: cobra.ExactArgs(1),
	RunE: runWS,
}

func init() {
	wsCmd.Flags().StringArrayVarP(&wsMessages, "message", "m", nil, "Text message to send (repeatable)")
	wsCmd.Flags().DurationVar(&wsWait, "wait", time.Second, "How long to wait for replies before closing")
	rootCmd.AddCommand(wsCmd)
}

func runWS(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := transport.NewClient(cfg.Client.TransportConfig(), transport.WithLogger(logger))

	sess, err := client.DialWebSocket(ctx, args[0])
	if err != nil {
		return err
	}

	p := printerFor(cmd)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for m := range sess.Messages() {
			p.Message(m)
		}
	}()

	send := func(text string) error {
		if err := sess.SendText(text); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if len(wsMessages) > 0 {
		for _, m := range wsMessages {
			if err := send(m); err != nil {
				return err
			}
		}
	} else {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if err := send(sc.Text()); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	select {
	case <-sess.Done():
	case <-time.After(wsWait):
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	closeErr := sess.Close(closeCtx)
	<-printed

	p.Closed(sess.CloseCode(), sess.Error())
	if closeErr != nil {
		return fmt.Errorf("close: %w", closeErr)
	}
	if err := sess.Error(); err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}

func printerFor(cmd *cobra.Command) *tui.Printer {
	return tui.NewPrinter(cmd.OutOrStdout())
}
