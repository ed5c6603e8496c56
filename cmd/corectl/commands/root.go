package commands

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/edgebus/devicecore/config"
	"github.com/edgebus/devicecore/core"
)

var configPath string

// NewRootCmd builds the corectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corectl",
		Short: "Inspect a devicecore instance's services, apps and queues",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a devicecore YAML config file")

	root.AddCommand(newStatsCmd())
	root.AddCommand(newServicesCmd())
	root.AddCommand(newAppsCmd())
	root.AddCommand(newDepsCmd())
	return root
}

// colorEnabled reports whether stdout is a real terminal, so piped
// output stays plain.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// openCore boots a Core from the resolved config and starts it, returning
// both the Core and its minted capability key. corectl always boots its
// own Core in-process: it is a standalone inspection binary, not a client
// attaching to an already-running core in another process.
func openCore() (*core.Core, core.Key, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, core.Key{}, err
	}

	c, key, err := core.Init(core.Options{
		ServiceCapacity:   cfg.ServiceCapacity,
		EventTypeCapacity: cfg.EventTypeCapacity,
		SubscriptionCap:   cfg.SubscriptionCap,
		QueueSlots:        cfg.QueueSlots,
		MaxEventDataSize:  cfg.MaxEventDataSize,
		AppCapacity:       cfg.AppCapacity,
		WatchdogInterval:  cfg.WatchdogInterval,
		StorageDir:        cfg.StorageDir,
	})
	if err != nil {
		return nil, core.Key{}, err
	}
	if err := c.Start(key); err != nil {
		return nil, core.Key{}, err
	}
	return c, key, nil
}
