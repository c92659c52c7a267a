package commands

import (
	"fmt"

	"github.com/bootline/bootline/internal/conn"
	"github.com/spf13/cobra"
)

func List() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the serial devices present on the system",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := conn.List()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println(HelpStyle("No serial devices found."))
				return nil
			}
			for _, port := range ports {
				fmt.Println(port)
			}
			return nil
		},
	}
}
