// Command wain loads, validates, instantiates and invokes WebAssembly 1.0
// modules from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// fs is swapped for an in-memory filesystem in tests.
	fs afero.Fs = afero.NewOsFs()

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "wain",
	Short: "wain - a WebAssembly 1.0 interpreter",
	Long: `wain decodes, validates and executes WebAssembly 1.0 binary modules.

It runs modules in a pure-Go interpreter: no JIT, no post-1.0 proposals.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
