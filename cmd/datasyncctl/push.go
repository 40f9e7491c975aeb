package main

import (
	"fmt"

	"github.com/erauner12/datasync/internal/push"
	"github.com/spf13/cobra"
)

var (
	pushJSON        bool
	pushParallelism int
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Drain the operations queue for one or more tables against the service",
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().BoolVar(&pushJSON, "json", false, "print the result as JSON")
	pushCmd.Flags().IntVar(&pushParallelism, "parallelism", 0, "override configured push parallelism (0 = use config)")
}

func runPush(cmd *cobra.Command, args []string) error {
	if err := requireTables(); err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	clients := map[string]push.TableClient{}
	for _, table := range tables {
		c, err := eng.clientFor(table)
		if err != nil {
			return fmt.Errorf("build client for %q: %w", table, err)
		}
		clients[table] = c
	}

	parallelism := eng.cfg.PushParallelism
	if pushParallelism > 0 {
		parallelism = pushParallelism
	}

	driver := &push.Driver{
		Queue:       eng.store.Queue(),
		Clients:     clients,
		Local:       eng.store.Entities(),
		Parallelism: parallelism,
	}

	result, err := driver.Push(cmd.Context(), tables)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pushJSON {
		return printJSON(out, result)
	}

	fmt.Fprintf(out, "completed: %d\n", result.Completed)
	if !result.Successful() {
		fmt.Fprintf(out, "failed requests:\n")
		for key, failed := range result.FailedRequests {
			fmt.Fprintf(out, "  %s: status=%d body=%s\n", key, failed.StatusCode, string(failed.Body))
		}
	}
	return nil
}
