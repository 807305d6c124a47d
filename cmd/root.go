package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "intent-eval",
	Short: "Feedback-driven evaluation and calibration for intent classifiers",
	Long: `intent-eval closes the loop around an intent classification service:
it collects delayed feedback on served predictions, computes quality
metrics over the closed records, and automatically curates the few-shot
sample library the serving path retrieves from.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".intent-eval.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
