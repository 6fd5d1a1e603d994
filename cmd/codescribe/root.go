package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codescribe/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "codescribe",
	Short: "LLM-assisted source tree documentation",
	Long: "Codescribe analyses a source tree with a staged LLM pipeline and keeps\n" +
		"derived documentation (endpoints, schema, components, security report)\n" +
		"in sync as the tree changes.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", config.DefaultPath, "Path to config file (YAML or JSON)")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sectionsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
