// Command corectl is the operator-facing CLI that boots its own in-process
// devicecore instance and prints service/app/dependency listings and
// aggregate stats.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/edgebus/devicecore/cmd/corectl/commands"
)

func main() {
	root := commands.NewRootCmd()
	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err.Error())
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}
}
