package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/config"
	"github.com/galinamarkova/beeswax-api/internal/pipeline"
)

type cliFlags struct {
	runID             string
	featuresFrom      string
	dropGroups        []string
	refresh           bool
	tune              bool
	upsampleTrainOnly bool
	selectionOut      string
	weightThreshold   float64
}

type stageFunc func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error

func newRootCmd(logger *zap.Logger, cfg config.Config) *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:           "cvrpipeline",
		Short:         "train, inspect and evaluate the conversion-rate model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.runID, "run", "", "id of the run to continue")
	pf.StringVar(&f.featuresFrom, "features-from", "", "descriptor (local path or s3 uri) whose features restrict the encoding")
	pf.StringSliceVar(&f.dropGroups, "drop-groups", nil, "original fields whose columns are dropped before export")
	pf.BoolVar(&f.refresh, "refresh", false, "refetch the dataset from ClickHouse instead of the local cache")
	pf.BoolVar(&f.upsampleTrainOnly, "upsample-train-only", false, "split first and upsample only the train partition")
	pf.StringVar(&f.selectionOut, "selection-out", "selection.json", "file receiving the features kept by inspect")
	pf.Float64Var(&f.weightThreshold, "weight-threshold", -1, "minimum max |weight| for a feature group to be kept (default from WEIGHT_THRESHOLD)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run every stage on a new run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, cfg, f, func(ctx context.Context, a *app) error {
				st, err := a.pipeline.Run(ctx)
				if st != nil {
					logger.Info("run finished", zap.String("run_id", st.RunID), zap.Error(err))
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	runCmd.Flags().BoolVar(&f.tune, "tune", false, "run a hyperparameter search after training")

	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "load, encode, resample, split and export the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, cfg, f, func(ctx context.Context, a *app) error {
				st := a.pipeline.NewState()
				if f.runID != "" {
					st.RunID = f.runID
				}
				unlock, err := a.pipeline.Lock(ctx, st.RunID)
				if err != nil {
					return err
				}
				defer unlock()
				if err := a.pipeline.Prepare(ctx, st); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}

	root.AddCommand(
		runCmd,
		prepareCmd,
		stageCmd("train", "train a model on a prepared run", logger, cfg, f,
			func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error { return p.Train }),
		stageCmd("tune", "search hyperparameters on a prepared run", logger, cfg, f,
			func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error { return p.Tune }),
		stageCmd("inspect", "report model weights per feature group", logger, cfg, f,
			func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error { return p.Inspect }),
		stageCmd("deploy", "serve the run's model from a new endpoint", logger, cfg, f,
			func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error { return p.Deploy }),
		stageCmd("evaluate", "measure endpoint error on the test partition", logger, cfg, f,
			func(p *pipeline.Pipeline) func(context.Context, *pipeline.State) error { return p.Evaluate }),
	)
	return root
}

// stageCmd builds a subcommand running one stage on the stored state of --run.
func stageCmd(use, short string, logger *zap.Logger, cfg config.Config, f *cliFlags, stage stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.runID == "" {
				return errors.New("--run is required")
			}
			return withApp(cmd, logger, cfg, f, func(ctx context.Context, a *app) error {
				st, err := a.pipeline.Resume(ctx, f.runID, stage(a.pipeline))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func withApp(cmd *cobra.Command, logger *zap.Logger, cfg config.Config, f *cliFlags, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, logger, cfg, f)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
