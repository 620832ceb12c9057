package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/query"
)

var contextFlags struct {
	mode     string
	question string
	answer   bool
	timeout  time.Duration
}

var contextCmd = &cobra.Command{
	Use:   "context <drug-a> <drug-b>",
	Short: "Print the evidence bundle for a drug pair as JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runContext,
}

func init() {
	f := contextCmd.Flags()
	f.StringVar(&contextFlags.mode, "mode", "patient", "Audience: patient, doctor or pharma")
	f.StringVar(&contextFlags.question, "question", "", "Question passed to generation")
	f.BoolVar(&contextFlags.answer, "answer", false, "Also generate an answer (needs llm.apiKey)")
	f.DurationVar(&contextFlags.timeout, "timeout", 2*time.Minute, "Overall deadline")
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), contextFlags.timeout)
	defer cancel()

	a, err := openApp(ctx, app.Options{SkipGeneration: !contextFlags.answer})
	if err != nil {
		return err
	}
	defer a.Close()

	req := query.Request{
		DrugA:    args[0],
		DrugB:    args[1],
		Mode:     contextFlags.mode,
		Question: contextFlags.question,
	}

	if contextFlags.answer {
		resp, err := a.Engine.Answer(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	}

	bundle, err := a.Engine.BuildContext(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), bundle)
}
