package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate dispatcher and quota metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, key, err := openCore()
			if err != nil {
				return err
			}
			defer c.Stop(key)

			stats, err := c.GetStats(key)
			if err != nil {
				return err
			}

			label := fmt.Sprint
			if colorEnabled() {
				label = color.New(color.FgCyan).Sprint
			}

			fmt.Printf("%s %d\n", label("services:"), len(stats.Services))
			fmt.Printf("%s %d\n", label("apps:"), len(stats.Apps))
			fmt.Printf("%s %d\n", label("events processed:"), stats.Metrics.TotalProcessed)
			for tier, depth := range stats.QueueDepths {
				fmt.Printf("%s %s depth=%d max=%d overflow=%d\n", label("queue:"), tier, depth, stats.Metrics.MaxQueueDepth[tier], stats.Metrics.OverflowDrops[tier])
			}
			fmt.Printf("%s %d\n", label("handler timeouts:"), stats.Metrics.HandlerTimeouts)
			fmt.Printf("%s %d\n", label("watchdog timeouts:"), stats.Metrics.WatchdogTimeouts)
			fmt.Printf("%s %d\n", label("low priority drops:"), stats.Metrics.LowPriorityDrops)
			return nil
		},
	}
}
