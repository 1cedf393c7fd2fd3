package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/kleeedolinux/pseudows/debug"
	"github.com/kleeedolinux/pseudows/internal/config"
	"github.com/kleeedolinux/pseudows/socket"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		broadcast bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo (or broadcast chat) server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := cfg.Server
			if cmd.Flags().Changed("addr") {
				sc.Addr = addr
			}
			if cmd.Flags().Changed("broadcast") {
				sc.Broadcast = broadcast
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, sc)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "relay every message to all clients")

	return cmd
}

// newServer builds the protocol endpoint. Messages are echoed to their
// sender, or relayed to every client when sc.Broadcast is set.
func newServer(sc config.ServerConfig) *socket.Server {
	opts := []socket.ServerOption{
		socket.WithPollTimeout(sc.PollTimeout),
		socket.WithSessionTimeout(sc.SessionTimeout),
		socket.WithBufferSize(sc.BufferSize),
		socket.WithCompression(sc.Compression),
	}
	if sc.HandshakeRate > 0 {
		burst := sc.HandshakeBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, socket.WithHandshakeRate(rate.Limit(sc.HandshakeRate), burst))
	}

	srv := socket.NewServer(opts...)
	log := debug.Logger("serve")

	srv.HandleFunc(socket.EventConnect, func(c socket.Conn, _ string) {
		log.Info("client connected", "session", c.ID(), "protocol", c.Protocol(), "online", srv.Count())
	})
	srv.HandleFunc(socket.EventDisconnect, func(c socket.Conn, _ string) {
		log.Info("client disconnected", "session", c.ID(), "online", srv.Count())
	})

	if sc.Broadcast {
		srv.HandleFunc(socket.EventMessage, func(c socket.Conn, data string) {
			srv.Broadcast(data)
		})
	} else {
		srv.HandleFunc(socket.EventMessage, func(c socket.Conn, data string) {
			if err := c.Send(data); err != nil {
				log.Warn("echo failed", "session", c.ID(), "error", err)
			}
		})
	}

	return srv
}

func runServe(ctx context.Context, sc config.ServerConfig) error {
	log := debug.Logger("serve")
	srv := newServer(sc)

	mux := http.NewServeMux()
	mux.Handle(sc.Path, srv)

	httpSrv := &http.Server{
		Addr:              sc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", sc.Addr, "path", sc.Path, "broadcast", sc.Broadcast)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		srv.Shutdown(context.Background())
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("session shutdown incomplete", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}
