package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/livestate/pkg/channel"
	"github.com/go-go-golems/livestate/pkg/journal"
)

func newWatchCommand() *cobra.Command {
	var (
		origin     string
		retryDelay time.Duration
		journalDSN string
	)
	cmd := &cobra.Command{
		Use:   "watch <endpoint>",
		Short: "Attach a reconnecting channel to an endpoint and log each update",
		Long: `Attach a reconnecting channel to a state update endpoint and log each
decoded payload. The endpoint may be absolute (ws://, wss://) or relative
(/__ws__, //host/__ws__), in which case --origin supplies the page URL the
transport scheme is derived from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("journal") {
				cfg.Journal = journalDSN
			}

			var jrnl *journal.Journal
			if cfg.Journal != "" {
				jrnl, err = journal.New(cfg.Journal)
				if err != nil {
					return errors.Wrap(err, "open journal")
				}
				defer func() { _ = jrnl.Close() }()
			}

			endpoint := args[0]
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := []channel.Option{channel.WithRetryDelay(retryDelay)}
			if origin != "" {
				opts = append(opts, channel.WithOrigin(func() string { return origin }))
			}
			ch := channel.Open(endpoint, func(payload map[string]any) {
				log.Info().Interface("payload", payload).Msg("update")
				if jrnl == nil {
					return
				}
				raw, err := json.Marshal(payload)
				if err != nil {
					return
				}
				if err := jrnl.Append(context.Background(), endpoint, time.Now().UnixMilli(), string(raw)); err != nil {
					log.Warn().Err(err).Msg("journal append failed")
				}
			}, opts...)

			<-ctx.Done()
			log.Info().Msg("stopping watch")
			ch.Close()
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Page origin used to resolve relative endpoints")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", channel.DefaultRetryDelay, "Fixed delay between reconnect attempts")
	cmd.Flags().StringVar(&journalDSN, "journal", "", "SQLite DSN to journal received payloads to")
	return cmd
}
