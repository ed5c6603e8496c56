package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Print the computed service initialization order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, key, err := openCore()
			if err != nil {
				return err
			}
			defer c.Stop(key)

			order, err := c.DependencyGraph().InitOrder()
			if err != nil {
				return err
			}
			for i, id := range order {
				fmt.Printf("%d. service %d\n", i+1, id)
			}
			return nil
		},
	}
}
