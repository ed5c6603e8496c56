package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List registered services and their lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, key, err := openCore()
			if err != nil {
				return err
			}
			defer c.Stop(key)

			bold := fmt.Sprint
			if colorEnabled() {
				bold = color.New(color.Bold).Sprint
			}

			fmt.Println(bold("ID   NAME                 STATE        CRITICAL  RESTARTS"))
			for _, svc := range c.Registry().ListAll() {
				fmt.Printf("%-4d %-20s %-12s %-9v %d\n", svc.ID, svc.Name, svc.State, svc.Critical, svc.RestartCount)
			}
			return nil
		},
	}
}
