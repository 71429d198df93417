// Command workq is a minimal demo CLI exercising the queue library end
// to end: load entries from a JSON-lines file, run them through a
// worker pool, and print final stats. It is not part of the library's
// core contract (CLI/hosting wiring is a named Non-goal); it exists so
// the package can be driven manually (root command + persistent flags,
// one function per subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/workq/internal/logging"
)

var (
	queueName       string
	retries         int
	workItemTimeout string
	deliveryDelay   string
	workers         int
	logLevel        string
	logFormat       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "workq",
		Short: "workq - in-process work queue demo CLI",
		Long:  "Drives internal/queue's engine and internal/worker's dispatcher from the command line",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitStructured(logFormat, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&queueName, "queue", "demo", "queue name")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 3, "max retries before dead-lettering")
	rootCmd.PersistentFlags().StringVar(&workItemTimeout, "lease-timeout", "30s", "lease duration before a dequeued entry is retried")
	rootCmd.PersistentFlags().StringVar(&deliveryDelay, "delivery-delay", "0s", "minimum delay before an enqueued entry becomes visible")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "worker pool size")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")

	rootCmd.AddCommand(
		runCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the workq CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("workq demo CLI")
			return nil
		},
	}
}
