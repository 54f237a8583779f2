/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/worker"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers notifications and runs scheduled jobs",
	Long: `Consumes portal events from the message queue, delivers email and
WhatsApp notifications, opens and closes water schedules on time and
purges expired sessions. Usage:

	jalsetu worker
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := worker.New(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start worker: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()

		if err := w.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
