// Command datasyncctl is an operator CLI around the offline client
// engine: it drives a push or pull against the configured service from
// the command line, useful for scripted syncs, cron jobs, and debugging
// a stuck queue, the same role the pack's cobra-based CLIs
// (hyperengineering-engram's `engram store`, marcus-td's CLI) play for
// their own stores.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tables []string

var rootCmd = &cobra.Command{
	Use:   "datasyncctl",
	Short: "Operate the datasync offline client engine from the command line",
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&tables, "table", nil, "table name to operate on (repeatable)")
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
