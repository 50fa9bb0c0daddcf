package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amariwan/cmdchat-go/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cmdchat-client version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
