package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped at release build time via -ldflags; "dev" is the
// value a plain `go build` produces.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print barnd's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("barnd " + version)
		return nil
	},
}
