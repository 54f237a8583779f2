/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jalsetu",
	Short: "Backend for the JalSetu water infrastructure portal",
	Long: `Backend for the JalSetu water infrastructure portal: pipe-damage
reports, repair approvals, water supply schedules and notifications.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(config.LoadConfig().LogLevel)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
