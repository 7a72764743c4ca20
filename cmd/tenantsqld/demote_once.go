package main

import (
	"time"

	"github.com/spf13/cobra"
)

var demoteOnceCmd = &cobra.Command{
	Use:   "demote-once",
	Short: "Run a single demotion sweep and exit (C3)",
	Long: `demote-once evicts every HOT tenant idle past COLD_THRESHOLD_HOURS
back to the primary bucket, then exits. Intended to be driven by an
external scheduler rather than the serve command's built-in ticker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		a.tieredMgr.RunDemotionSweep(ctx, a.replicas, time.Now().UTC(), a.cfg.ColdThreshold())
		return nil
	},
}
