package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"DrawSight/internal/app"
	"DrawSight/internal/job"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

type predictOptions struct {
	pluginID    string
	lotteryType string
	count       int
	days        int
	threshold   float64
	seed        uint64
}

func newPredictCmd(root *rootOptions) *cobra.Command {
	opts := &predictOptions{}
	defaults := plugin.DefaultParameters()
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction against the configured draw store and print it as JSON",
		Example: `  drawsightd predict --plugin weighted_frequency --lottery-type lotto645 --count 3
  drawsightd predict --plugin neural_network --lottery-type lotto645 --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			instance, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer instance.Close(context.Background())

			params := plugin.PredictionParameters{
				PredictionCount:     opts.count,
				HistoricalDataDays:  opts.days,
				ConfidenceThreshold: opts.threshold,
			}
			if cmd.Flags().Changed("seed") {
				seed := opts.seed
				params.RandomSeed = &seed
			}
			outcome, err := instance.Predictor.Predict(ctx, job.Request{
				PluginID:    opts.pluginID,
				LotteryType: opts.lotteryType,
				Parameters:  params,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome.Result)
		},
	}
	cmd.Flags().StringVarP(&opts.pluginID, "plugin", "p", "", "plugin identifier")
	cmd.Flags().StringVarP(&opts.lotteryType, "lottery-type", "l", "lotto645", "lottery type to predict")
	cmd.Flags().IntVarP(&opts.count, "count", "n", defaults.PredictionCount, "number of predictions")
	cmd.Flags().IntVar(&opts.days, "days", defaults.HistoricalDataDays, "days of history to analyse")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", defaults.ConfidenceThreshold, "confidence threshold")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed for reproducible output")
	_ = cmd.MarkFlagRequired("plugin")
	return cmd
}
