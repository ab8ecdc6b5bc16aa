package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jordanella.com/screen-locator/internal/journal"
)

// journalEnv provides the environment for the journal command.
type journalEnv struct {
	root  *rootEnv
	limit int
	stats bool
}

// getJournalCmd returns the definition of the journal command.
func getJournalCmd(root *rootEnv) *cobra.Command {
	env := &journalEnv{root: root}
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded matches",
		Long: `
Prints the most recent entries of the match journal (journalPath), or per-template
aggregates with --stats.
`,
		Args: cobra.NoArgs,
		RunE: env.runJournalCmd,
	}

	cmd.Flags().IntVar(&env.limit, "limit", 20, "number of recent entries")
	cmd.Flags().BoolVar(&env.stats, "stats", false, "show per-template statistics")

	return cmd
}

func (j *journalEnv) runJournalCmd(cmd *cobra.Command, _ []string) error {
	path := j.root.cfg.JournalPath
	if path == "" {
		return fmt.Errorf("no journalPath configured")
	}

	db, err := journal.OpenAndMigrate(path)
	if err != nil {
		return err
	}
	defer db.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if j.stats {
		stats, err := db.StatsByTemplate()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TEMPLATE\tCALLS\tHIT RATE\tAVG SCORE\tBEST SCORE\tAVG MS\tLAST SEEN")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\t%s\t%.2f\t%s\n",
				s.TemplateID, s.Calls, s.HitRate(), optScore(s.AvgScore), optScore(s.BestScore),
				s.AvgDurationMs, s.LastSeen.Local().Format(time.DateTime))
		}
		return w.Flush()
	}

	records, err := db.Recent(j.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME\tTEMPLATE\tOP\tMETHOD\tMATCHED\tSCORE\tX\tY\tCOUNT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%d\t%d\t%d\n",
			r.RecordedAt.Local().Format(time.DateTime), r.TemplateID, r.Operation, r.Method,
			r.Matched, optScore(r.Score), r.X, r.Y, r.Count)
	}
	return w.Flush()
}

func optScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *s)
}
