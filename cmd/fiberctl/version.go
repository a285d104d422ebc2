package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fiberctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("fiberctl %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
