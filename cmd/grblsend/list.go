package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/grblsend/machine"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := machine.ListPorts()
			if err != nil {
				return &CLIError{Message: "List serial ports", Cause: err, Code: ExitGeneral}
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
				return nil
			}
			printPorts(out, ports)
			return nil
		},
	}
}
