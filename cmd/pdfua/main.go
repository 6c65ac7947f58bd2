// Command pdfua repairs and validates PDF accessibility: structure
// tagging, reading order, metadata, contrast, and permissions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfua/engine"
	"pdfua/observability"
)

var (
	flagVerbose  bool
	flagPassword string
	flagWorkers  int
	flagBand     float64
)

var rootCmd = &cobra.Command{
	Use:   "pdfua",
	Short: "PDF accessibility remediation",
	Long: `pdfua repairs the machine-fixable PDF/UA defects of a document and
validates the result: structure tagging with marked content, reading
order, document language and title, the MarkInfo flag, text contrast,
widget tab order, and the assistive-technology extraction permission.

Heading, table, and figure classification comes from an external
classifier and is supplied to the repair command as a YAML request
file; pdfua never guesses document semantics on its own.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log progress to stderr")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "password for encrypted input")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "page worker count (0 = all CPUs)")
	rootCmd.PersistentFlags().Float64Var(&flagBand, "band", 0, "reading-order overlap band fraction (0 = default 0.5)")
}

func newEngine() *engine.Engine {
	var logger observability.Logger = observability.NopLogger{}
	if flagVerbose {
		logger = observability.NewStdLogger()
	}
	return engine.New(engine.Config{
		Workers:  flagWorkers,
		Band:     flagBand,
		Password: flagPassword,
		Compress: true,
		Logger:   logger,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
