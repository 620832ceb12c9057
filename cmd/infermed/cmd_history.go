package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
)

var historyFlags struct {
	limit int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent queries and how each source answered",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "Number of queries to show")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), app.Options{SkipGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.History.GetQueryHistory(cmd.Context(), historyFlags.limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDRUG A\tDRUG B\tMODE\tPARTIAL\tCAVEATS\tLATENCY\tSOURCES")
	for _, r := range records {
		sources, err := a.History.GetQuerySources(cmd.Context(), r.ID)
		if err != nil {
			return err
		}
		summary := ""
		for i, s := range sources {
			if i > 0 {
				summary += " "
			}
			summary += s.Source + "=" + s.Outcome
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%dms\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.DrugA, r.DrugB, r.Mode, r.Partial, r.Caveats, r.LatencyMS, summary)
	}
	return w.Flush()
}
