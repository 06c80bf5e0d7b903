// Package main is Barn's daemon entrypoint: it wires together the
// configuration, directory layout, job repository, load classifier,
// scheduler, recovery pass, and cleanup engine, then runs until asked
// to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	baseDirFlag   string
	configDirFlag string
)

// rootCmd is barnd's entrypoint. The user-facing job-submission CLI is
// a separate, out-of-scope layer; barnd itself only exposes the
// daemon process lifecycle: "run" and "version", plus a
// "dump-whitelists" debug subcommand for inspecting the compiled load
// classifier.
var rootCmd = &cobra.Command{
	Use:   "barnd",
	Short: "Barn background job daemon",
	Long: `barnd runs jobs submitted by an external CLI or IPC layer: it
polls a filesystem-backed queue, enforces per-load-category
concurrency, supervises each child process's full lifetime, retries
failures with exponential backoff, reconciles state left behind by a
crashed run, and periodically sweeps terminal jobs off disk.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDirFlag, "base-dir", "", "Job data directory (overrides BARN_BASE_DIR)")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Whitelist config directory (overrides BARN_CONFIG_DIR)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpWhitelistsCmd)
}

// Execute runs barnd's root command, exiting the process with a
// non-zero code on startup failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
