package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samson-media/barn/internal/loadclass"
)

type whitelistDump struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

var dumpWhitelistsCmd = &cobra.Command{
	Use:   "dump-whitelists",
	Short: "Print the compiled load-classifier whitelists as YAML",
	Long: `dump-whitelists reads high.txt, medium.txt, and low.txt from the
config directory, compiles them the same way the running daemon does,
and prints the resulting bare-name sets back out as YAML. It never
touches job state; it's a debugging aid for whitelist authors.`,
	RunE: runDumpWhitelists,
}

func runDumpWhitelists(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig()

	classifier, err := loadclass.NewClassifier(
		filepath.Join(cfg.ConfigDir, "high.txt"),
		filepath.Join(cfg.ConfigDir, "medium.txt"),
		filepath.Join(cfg.ConfigDir, "low.txt"),
	)
	if err != nil {
		return err
	}

	dump := whitelistDump{
		High:   classifier.High.ReadLines(),
		Medium: classifier.Medium.ReadLines(),
		Low:    classifier.Low.ReadLines(),
	}
	out, err := yaml.Marshal(dump)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
