package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/evaluation"
)

var evalFlags struct {
	json    bool
	minPass float64
	timeout time.Duration
}

var evalCmd = &cobra.Command{
	Use:   "eval <dataset.yaml>",
	Short: "Replay known drug pairs and check the evidence each bundle contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

func init() {
	f := evalCmd.Flags()
	f.BoolVar(&evalFlags.json, "json", false, "Print the full report as JSON")
	f.Float64Var(&evalFlags.minPass, "min-pass", 1, "Fail when the pass rate is below this fraction")
	f.DurationVar(&evalFlags.timeout, "timeout", 10*time.Minute, "Overall deadline")
}

func runEval(cmd *cobra.Command, args []string) error {
	ds, err := evaluation.LoadDataset(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), evalFlags.timeout)
	defer cancel()

	a, err := openApp(ctx, app.Options{SkipGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	report := evaluation.NewEvaluator(a.Engine, a.Logger()).Run(ctx, ds)
	if evalFlags.json {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))
	}

	if report.PassRate < evalFlags.minPass {
		return fmt.Errorf("pass rate %.2f below %.2f", report.PassRate, evalFlags.minPass)
	}
	return nil
}
