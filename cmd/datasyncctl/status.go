package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/erauner12/datasync/internal/deltatoken"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending queue depth and delta-token state for one or more tables",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the result as JSON")
}

type tableStatus struct {
	Table      string `json:"table"`
	Pending    int    `json:"pending"`
	DeltaToken int64  `json:"deltaToken"`
	HasToken   bool   `json:"hasToken"`
	TokenID    string `json:"tokenId"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := requireTables(); err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := cmd.Context()
	queue := eng.store.Queue()
	tokens := eng.store.Tokens()

	var statuses []tableStatus
	for _, table := range tables {
		pending, err := queue.Pending(ctx, table)
		if err != nil {
			return fmt.Errorf("load pending operations for %q: %w", table, err)
		}

		tokenID := deltatoken.TokenID(table, deltatoken.NoQueryID(), "")
		value, ok, err := tokens.Get(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("load delta token for %q: %w", table, err)
		}

		statuses = append(statuses, tableStatus{
			Table:      table,
			Pending:    len(pending),
			DeltaToken: value,
			HasToken:   ok,
			TokenID:    tokenID,
		})
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return printJSON(out, statuses)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tPENDING\tTOKEN")
	for _, s := range statuses {
		token := "-"
		if s.HasToken {
			token = fmt.Sprintf("%d", s.DeltaToken)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Table, s.Pending, token)
	}
	return tw.Flush()
}
