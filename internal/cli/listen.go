package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/docchat/internal/chat"
	"github.com/rickgao/docchat/internal/connection"
	"github.com/rickgao/docchat/internal/poller"
	"github.com/rickgao/docchat/internal/protocol"
	"github.com/rickgao/docchat/internal/realtime"
)

var errNotConnected = errors.New("could not connect to the backend")

func newListenCommand(a *app) *cobra.Command {
	var (
		events         []string
		healthInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print connection lifecycle and server events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &lockedWriter{w: cmd.OutOrStdout()}

			// Written on the dispatch goroutine, read after Finished.
			var (
				connected  bool
				connectErr string
			)
			lifecycle := []realtime.Option{
				realtime.WithListener(connection.EventConnect, func(ev protocol.Event) {
					var sid string
					ev.Bind(0, &sid)
					connected = true
					fmt.Fprintf(out, "connected sid=%s\n", sid)
				}),
				realtime.WithListener(connection.EventConnectError, func(ev protocol.Event) {
					var data protocol.ConnectErrorData
					ev.Bind(0, &data)
					connectErr = data.Message
					fmt.Fprintf(out, "connect error: %s\n", data.Message)
				}),
				realtime.WithListener(connection.EventDisconnect, func(ev protocol.Event) {
					var reason string
					ev.Bind(0, &reason)
					fmt.Fprintf(out, "disconnected: %s\n", reason)
				}),
				realtime.WithListener(chat.EventServerReady, chat.ReadyHandler(func(ok bool) {
					fmt.Fprintf(out, "server ready: %t\n", ok)
				})),
			}
			for _, name := range events {
				lifecycle = append(lifecycle, realtime.WithListener(name, func(ev protocol.Event) {
					fmt.Fprintf(out, "%s %s\n", ev.Name, joinArgs(ev))
				}))
			}

			h := a.socket(lifecycle...)
			defer h.Socket.Close()

			if healthInterval > 0 {
				p := poller.New(poller.Config{Interval: healthInterval}, a.apiClient(), func(up bool, err error) {
					if up {
						fmt.Fprintln(out, "backend healthy")
					} else {
						fmt.Fprintf(out, "backend unhealthy: %v\n", err)
					}
				}, a.logger)
				if err := p.Start(cmd.Context()); err != nil {
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					p.Stop(ctx)
				}()
			}

			interrupted := false
			select {
			case <-cmd.Context().Done():
				interrupted = true
				h.Socket.Close()
			case <-h.Socket.Finished():
			}
			<-h.Socket.Finished()

			if !connected && !interrupted {
				return fmt.Errorf("%w: %s", errNotConnected, connectErr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&healthInterval, "health-interval", 0, "Also poll backend health at this interval (0 disables)")
	cmd.Flags().StringSliceVar(&events, "event", []string{chat.EventBotChunk, chat.EventBotDone}, "Additional events to print")
	return cmd
}

// lockedWriter serializes writes from listeners and the health poller.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func joinArgs(ev protocol.Event) string {
	s := ""
	for i, arg := range ev.Args {
		if i > 0 {
			s += " "
		}
		s += string(arg)
	}
	return s
}
