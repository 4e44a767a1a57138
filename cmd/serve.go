package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pagebus/pagebus/pkg/broker"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"
	"github.com/spf13/cobra"
)

var serveObserve bool

// serveCmd hosts the hub: a broker bound to a unix socket listener that
// out-of-process contexts attach to.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the hub broker on a unix socket",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	if serveObserve {
		b.SetObserver(func(msg *types.Message) {
			rootLog.Info("Routing message", "from", msg.From, "to", msg.To)
		})
	}

	listener, err := transport.NewListener(cfg.Transport, rootLog)
	if err != nil {
		return err
	}
	defer listener.Close()

	listener.OnConnect(func(port transport.Port) {
		b.Bind(port)
	})

	if err := listener.Listen(ctx); err != nil {
		return err
	}

	rootLog.Info("Hub is running. Press Ctrl+C to stop.",
		"socket_path", cfg.Transport.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rootLog.Info("Shutting down hub", "stats", b.Stats().String())
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveObserve, "observe", false,
		"Log every routed message")
	rootCmd.AddCommand(serveCmd)
}
