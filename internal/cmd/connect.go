package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/internal/config"
	"github.com/kleeedolinux/pseudows/socket"
	"github.com/kleeedolinux/pseudows/socket/transport"
)

var errHandshake = errors.New("handshake failed")

func newConnectCmd() *cobra.Command {
	var (
		protocol string
		native   bool
		requeue  bool
	)

	cmd := &cobra.Command{
		Use:   "connect [url]",
		Short: "Send stdin lines as messages and print inbound messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cfg.Client
			if len(args) == 1 {
				cc.URL = args[0]
			}
			if cmd.Flags().Changed("protocol") {
				cc.Protocol = protocol
			}
			if cmd.Flags().Changed("native") {
				cc.Native = native
			}
			if cmd.Flags().Changed("requeue") {
				cc.RequeueOnFailure = requeue
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "sub-protocol name")
	cmd.Flags().BoolVar(&native, "native", false, "use a real WebSocket")
	cmd.Flags().BoolVar(&requeue, "requeue", false, "requeue messages of a failed drain")

	return cmd
}

func runConnect(ctx context.Context, cc config.ClientConfig, in io.Reader, out io.Writer) error {
	if cc.Native {
		return runNative(ctx, cc, in, out)
	}
	return runEmulated(ctx, cc, in, out)
}

// runEmulated drives an emulated socket until stdin ends and every line has
// been delivered, or until the socket closes.
func runEmulated(ctx context.Context, cc config.ClientConfig, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := debug.Logger("connect")
	loop := socket.NewLoop()
	ex := transport.NewHTTPExchanger(loop, transport.WithTimeout(cc.Timeout))
	defer ex.Close()

	opts := []socket.Option{
		socket.WithProtocol(cc.Protocol),
		socket.WithOpenHandler(func() {
			log.Info("connected", "url", cc.URL)
		}),
		socket.WithMessageHandler(func(ev socket.MessageEvent) {
			fmt.Fprintln(out, ev.Data)
		}),
		socket.WithErrorHandler(func(err error) {
			log.Error("socket error", "error", err)
		}),
		socket.WithCloseHandler(cancel),
	}
	if cc.RequeueOnFailure {
		opts = append(opts, socket.WithRequeueOnFailure())
	}

	sock := socket.New(loop, ex, cc.URL, opts...)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := sock.Send(scanner.Text()); err != nil {
				return
			}
		}
		sock.CloseWhenDrained()
	}()

	err := loop.Run(ctx)
	if sock.ReadyState() == socket.Connecting {
		return errHandshake
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runNative(ctx context.Context, cc config.ClientConfig, in io.Reader, out io.Writer) error {
	ws := transport.NewWebSocketTransport(cc.URL, transport.WithSubprotocol(cc.Protocol))
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	defer ws.Close()

	errCh := make(chan error, 2)
	go func() {
		for {
			m, err := ws.Receive()
			if err != nil {
				errCh <- err
				return
			}
			fmt.Fprintln(out, m)
		}
	}()
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := ws.Send(scanner.Text()); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
