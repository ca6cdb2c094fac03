package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/sessioncore/pkg/redisstream"
	"github.com/go-go-golems/sessioncore/pkg/ui"
	"github.com/go-go-golems/sessioncore/pkg/webchat"
)

func newServeCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}

			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pub, sub, err := redisstream.Build(s.Redis)
			if err != nil {
				return errors.Wrap(err, "build transport")
			}
			defer func() {
				_ = pub.Close()
				// the in-memory transport uses one object for both ends
				if any(sub) != any(pub) {
					_ = sub.Close()
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := webchat.NewServer(
				webchat.WithStore(store),
				webchat.WithTransport(pub, sub),
				webchat.WithBaseContext(ctx),
				webchat.WithDefaultProtocol(s.Protocol),
				webchat.WithIdleTimeout(s.IdleTimeout),
			)
			if topic, _ := cmd.Flags().GetString("events-topic"); topic != "" {
				events, err := sub.Subscribe(ctx, topic)
				if err != nil {
					return errors.Wrapf(err, "subscribe to %s", topic)
				}
				forward := ui.ManagerForwardFunc(srv.Manager())
				go func() {
					for msg := range events {
						if err := forward(msg); err != nil {
							log.Warn().Err(err).Str("topic", topic).Msg("dropping inference event")
						}
					}
				}()
				log.Info().Str("topic", topic).Msg("forwarding inference events into sessions")
			}

			log.Info().
				Str("addr", s.Addr).
				Str("protocol", string(s.Protocol)).
				Bool("redis", s.Redis.Enabled).
				Str("db", s.DB).
				Msg("starting sessioncore server")
			return srv.Run(ctx, s.Addr)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().Duration("idle-timeout", 30*time.Minute, "Evict sessions idle for this long (0 disables eviction)")
	cmd.Flags().String("events-topic", "", "Also consume geppetto inference events from this topic into structured sessions")
	return cmd
}
