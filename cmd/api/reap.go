package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// cronなどから1回だけスイープする
func reapCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "予約期限切れの注文を1回だけ失効させる",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			res, err := a.reaper().Sweep(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("reap done",
				slog.Bool("skipped", res.Skipped),
				slog.Int("scanned", res.Scanned),
				slog.Int("expired", res.Expired),
				slog.Int("failed", res.Failed),
			)
			if res.Failed > 0 {
				return fmt.Errorf("%d orders failed to expire", res.Failed)
			}
			return nil
		},
	}
}
