package main

import (
	"fmt"
	"os"

	"github.com/bootline/bootline/cmd/bootline/commands"
	"github.com/bootline/bootline/cmd/bootline/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Injected at build time.
var version string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bootline",
		Short: "Bootline is a serial terminal that pushes boot images to a chainloader on request.",
		Long: `Bootline relays your terminal to a serial device. Escape commands
begin with <Enter> and end with one of the following sequences:
    ~~ - send the '~' character
    ~. - terminate the connection

With --image set, bootline answers the remote chainloader's boot request
by sending the image over the line.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
				return fmt.Errorf("binding verbose flag: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug information to a file on the format `.bootline-[command].log` in the current directory")

	cobra.OnInitialize(func() {
		if err := config.Init(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	})

	rootCmd.AddCommand(commands.Open())
	rootCmd.AddCommand(commands.List())
	rootCmd.AddCommand(commands.Config())
	rootCmd.AddCommand(commands.Version(version))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
