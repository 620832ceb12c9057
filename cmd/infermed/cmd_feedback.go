package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/storage/models"
)

var feedbackFlags struct {
	query   string
	queryID string
	rating  float64
	items   []string
	comment string
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a rating for an answer's evidence items",
	Long: "Record a rating in [0,1] for the evidence items behind an answer.\n" +
		"Each item's reliability moves toward the rating and is used by later rankings.",
	RunE: runFeedback,
}

var feedbackStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feedback totals",
	RunE:  runFeedbackStats,
}

func init() {
	f := feedbackCmd.Flags()
	f.StringVar(&feedbackFlags.query, "query", "", "Query fingerprint (cache key) the rating refers to")
	f.StringVar(&feedbackFlags.queryID, "query-id", "", "Query history id")
	f.Float64Var(&feedbackFlags.rating, "rating", 0, "Rating in [0,1] (required)")
	f.StringSliceVar(&feedbackFlags.items, "items", nil, "Comma-separated item keys, e.g. risk_flag:prr:warfarin+fluconazole")
	f.StringVar(&feedbackFlags.comment, "comment", "", "Free-text comment")

	_ = feedbackCmd.MarkFlagRequired("rating")
	feedbackCmd.MarkFlagsOneRequired("query", "query-id")

	feedbackCmd.AddCommand(feedbackStatsCmd)
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), app.Options{SkipGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	updated, err := a.Feedback.Record(cmd.Context(), models.FeedbackRecord{
		QueryID:          feedbackFlags.queryID,
		QueryFingerprint: feedbackFlags.query,
		Rating:           feedbackFlags.rating,
		ItemKeys:         feedbackFlags.items,
		Comment:          feedbackFlags.comment,
	})
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), updated)
}

func runFeedbackStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), app.Options{SkipGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Feedback.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}
