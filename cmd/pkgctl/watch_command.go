package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"learnhub/internal/feed"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow package lifecycle events from the TCP feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				addr = cfg.Server.FeedAddr
			}

			out := cmd.OutOrStdout()
			show := func(ev feed.PackageEvent) {
				if asJSON {
					b, _ := json.Marshal(ev)
					fmt.Fprintln(out, string(b))
					return
				}
				fmt.Fprintf(out, "%s  %-16s #%d %s\n", ev.At.Local().Format("15:04:05"), ev.Type, ev.PackageID, ev.Slug)
			}
			onErr := func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "disconnected: %v (retrying)\n", err)
			}

			feed.TailForever(cmd.Context(), addr, time.Second, show, onErr)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Feed address (default server.feed_addr)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON events")
	return cmd
}
