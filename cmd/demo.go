package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pagebus/pagebus/pkg/broker"
	"github.com/pagebus/pagebus/pkg/client"
	"github.com/pagebus/pagebus/pkg/command"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"
	"github.com/spf13/cobra"
)

// demoCmd walks through the protocol in a single process: a hub participant
// plus two nested contexts, one at depth 1 and one at depth 2. Both nested
// contexts hold a port straight to the hub; the depth-2 context never
// relays through depth 1.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process walkthrough of registration, probing and routing",
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := context.Background()

	b, err := broker.New(cfg.Broker, rootLog)
	if err != nil {
		return err
	}
	defer b.Close()

	// The hub participant observes all routed traffic.
	main, err := client.NewHub("main-page", b, cfg.ExistsCheck, rootLog)
	if err != nil {
		return err
	}
	if err := main.Observe(func(msg *types.Message) {
		rootLog.Info("Observed routed message", "from", msg.From, "to", msg.To)
	}); err != nil {
		return err
	}
	main.OnMessage(func(ctx context.Context, msg *types.Message) error {
		fmt.Printf("main-page <- %s: %s\n", msg.From, msg.Payload)
		return nil
	})

	// Nested contexts at depth 1 and depth 2, each with its own direct
	// port to the hub.
	attach := func(id types.ParticipantID) (*client.Client, error) {
		hubEnd, ctxEnd := transport.NewPipe(cfg.Transport)
		b.Bind(hubEnd)
		return client.NewNested(id, ctxEnd, cfg.ExistsCheck, rootLog)
	}

	sidebar, err := attach("sidebar") // depth 1
	if err != nil {
		return err
	}
	widget, err := attach("widget") // depth 2, still a single protocol hop
	if err != nil {
		return err
	}

	sidebar.OnMessage(func(ctx context.Context, msg *types.Message) error {
		fmt.Printf("sidebar <- %s: %s\n", msg.From, msg.Payload)
		return nil
	})

	// A sender cannot assume its peer has registered yet; probe first.
	if !widget.CheckClientExists(ctx, "sidebar", 0, 50*time.Millisecond) {
		return fmt.Errorf("sidebar never registered")
	}
	rootLog.Info("Probe succeeded", "client_id", "sidebar")

	if err := widget.SendMessage(ctx, "sidebar", "hello from the deep frame"); err != nil {
		return err
	}
	if err := widget.SendMessage(ctx, "main-page", "hello upward"); err != nil {
		return err
	}

	// The command wrapper composes fixed-shape calls over the same client.
	cmdr, err := command.New(widget, rootLog)
	if err != nil {
		return err
	}
	if err := cmdr.Ping(ctx, "main-page"); err != nil {
		return err
	}

	// Probing a participant that never registers resolves false after the
	// bounded retry loop.
	if widget.CheckClientExists(ctx, "no-such-frame", 2, 50*time.Millisecond) {
		return fmt.Errorf("probe for missing participant should fail")
	}
	rootLog.Info("Probe for missing participant resolved false, as expected")

	// Let asynchronous deliveries drain before teardown.
	time.Sleep(200 * time.Millisecond)

	for _, c := range []*client.Client{widget, sidebar, main} {
		if err := c.Unregister(); err != nil {
			rootLog.Warn("Unregister failed", "participant_id", c.ID(), "error", err)
		}
	}

	fmt.Println(b.String())
	return nil
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
