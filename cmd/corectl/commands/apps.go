package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List installed apps",
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

			fmt.Println(bold("ID                                    NAME            VERSION   SOURCE    STATE"))
			for _, a := range c.Apps().List() {
				fmt.Printf("%-37s %-15s %-9s %-9s %s\n", a.ID, a.Name, a.Version, a.Source, a.State)
			}
			return nil
		},
	}
}
