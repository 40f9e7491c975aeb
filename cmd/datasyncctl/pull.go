package main

import (
	"fmt"

	"github.com/erauner12/datasync/internal/deltatoken"
	"github.com/erauner12/datasync/internal/pull"
	"github.com/spf13/cobra"
)

var (
	pullJSON        bool
	pullFilter      string
	pullQueryID     string
	pullSaveEvery   bool
	pullParallelism int
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch changes since the last delta token for one or more tables",
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().BoolVar(&pullJSON, "json", false, "print the result as JSON")
	pullCmd.Flags().StringVar(&pullFilter, "filter", "", "OData $filter expression applied to every requested table")
	pullCmd.Flags().StringVar(&pullQueryID, "query-id", "", "delta-token bucket name; empty derives one from the filter text")
	pullCmd.Flags().BoolVar(&pullSaveEvery, "save-every-page", false, "advance the delta token after every page instead of once at the end")
	pullCmd.Flags().IntVar(&pullParallelism, "parallelism", 0, "override configured pull parallelism (0 = use config)")
}

func runPull(cmd *cobra.Command, args []string) error {
	if err := requireTables(); err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	clients := map[string]pull.TableClient{}
	var requests []pull.Request
	for _, table := range tables {
		c, err := eng.clientFor(table)
		if err != nil {
			return fmt.Errorf("build client for %q: %w", table, err)
		}
		clients[table] = c

		queryID := deltatoken.EmptyQueryID()
		if pullQueryID != "" {
			queryID = deltatoken.NamedQueryID(pullQueryID)
		}
		requests = append(requests, pull.Request{Table: table, QueryID: queryID, Filter: pullFilter})
	}

	parallelism := eng.cfg.PullParallelOperations
	if pullParallelism > 0 {
		parallelism = pullParallelism
	}

	driver := &pull.Driver{
		Queue:                        eng.store.Queue(),
		Tokens:                       eng.store.Tokens(),
		Clients:                      clients,
		Local:                        eng.store.Entities(),
		ParallelOperations:           parallelism,
		SaveAfterEveryServiceRequest: pullSaveEvery || eng.cfg.SaveAfterEveryServiceRequest,
	}

	result, err := driver.Pull(cmd.Context(), requests)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pullJSON {
		return printJSON(out, result)
	}

	fmt.Fprintf(out, "additions: %d  replacements: %d  deletions: %d\n",
		result.Additions, result.Replacements, result.Deletions)
	if !result.Successful() {
		fmt.Fprintf(out, "failed requests:\n")
		for key, failed := range result.FailedRequests {
			fmt.Fprintf(out, "  %s: status=%d body=%s\n", key, failed.StatusCode, string(failed.Body))
		}
	}
	return nil
}
