package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagebus/pagebus/pkg/client"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"
	"github.com/spf13/cobra"
)

var (
	attachID   string
	attachTo   string
	attachText string
	attachWait bool
)

// attachCmd joins a served hub as a nested participant over the unix
// socket, optionally sends one message, and either exits or waits for
// inbound traffic.
var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Join a served hub as a participant",
	RunE:  runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := context.Background()

	port, err := transport.Dial(cfg.Transport, rootLog)
	if err != nil {
		return err
	}
	defer port.Close()

	c, err := client.NewNested(types.ParticipantID(attachID), port, cfg.ExistsCheck, rootLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Unregister(); err != nil {
			rootLog.Warn("Unregister failed", "error", err)
		}
	}()

	c.OnMessage(func(ctx context.Context, msg *types.Message) error {
		fmt.Printf("%s <- %s: %s\n", attachID, msg.From, msg.Payload)
		return nil
	})

	if attachTo != "" {
		to := types.ParticipantID(attachTo)

		// Fire-and-forget delivery: probe before sending so a not-yet
		// registered peer is caught here rather than silently dropped.
		if !c.CheckClientExists(ctx, to, 0, 0) {
			return fmt.Errorf("participant %q is not registered at the hub", attachTo)
		}
		if err := c.SendMessage(ctx, to, attachText); err != nil {
			return err
		}
		rootLog.Info("Message sent", "to", attachTo)
	}

	if attachWait {
		rootLog.Info("Waiting for messages. Press Ctrl+C to leave.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
	} else {
		// Give queued inbound traffic a moment to drain.
		time.Sleep(100 * time.Millisecond)
	}

	return nil
}

func init() {
	attachCmd.Flags().StringVar(&attachID, "id", "", "Participant id (required)")
	attachCmd.Flags().StringVar(&attachTo, "to", "", "Send one message to this participant")
	attachCmd.Flags().StringVar(&attachText, "text", "hello", "Message payload text")
	attachCmd.Flags().BoolVar(&attachWait, "wait", false, "Stay attached and print inbound messages")
	attachCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(attachCmd)
}
