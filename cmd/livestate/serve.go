package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/livestate/pkg/server"
	"github.com/go-go-golems/livestate/pkg/stream"
)

func newServeCommand() *cobra.Command {
	var (
		addr     string
		topic    string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the state update endpoint and publish periodic snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("topic") {
				cfg.Topic = topic
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = interval
			}
			if cfg.Redis.Consumer == "" {
				cfg.Redis.Consumer = "ui-" + uuid.NewString()[:8]
			}

			backend, err := stream.NewBackend(cfg.Redis)
			if err != nil {
				return errors.Wrap(err, "build stream backend")
			}

			srv, err := server.New(server.Config{
				Addr:     cfg.Addr,
				Topic:    cfg.Topic,
				Interval: cfg.Interval,
			}, backend)
			if err != nil {
				return err
			}
			log.Info().Str("topic", cfg.Topic).Bool("redis", cfg.Redis.Enabled).Msg("serving state updates")
			return srv.Run(context.Background())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&topic, "topic", "state", "Update stream topic")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Snapshot publish interval (0 disables the built-in source)")
	return cmd
}
