package experiments

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeu5/recsim-rl/dashboard"
	"github.com/zeu5/recsim-rl/runner"
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "Serve the dashboard and /metrics on this address while running")
	cmd.Flags().String("checkpoint-store", "file", "Checkpoint store, file or redis")
}

func (a *app) trainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the configured agent, resuming from the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext(cmd.Context())
			defer cancel()
			return a.train(ctx)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func (a *app) train(ctx context.Context) error {
	store, closeStore, err := a.newStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	a.snapshot()
	if err := a.serveMetrics(ctx, store); err != nil {
		return err
	}
	trainer, err := a.trainRunner(store, a.newProgress())
	if err != nil {
		return err
	}
	return trainer.RunExperiment(ctx)
}

func (a *app) evalCommand() *cobra.Command {
	var testMode bool
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the checkpoints written by train as they appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext(cmd.Context())
			defer cancel()

			store, closeStore, err := a.newStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := a.serveMetrics(ctx, store); err != nil {
				return err
			}
			evaluator, err := a.evalRunner(store, testMode, a.cfg.Runner.StopAfterIteration, a.newProgress())
			if err != nil {
				return err
			}
			return evaluator.RunExperiment(ctx)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "Evaluate the latest checkpoint once and exit")
	cmd.Flags().Int("stop-after-iteration", -1, "Stop once this iteration is evaluated, -1 polls until interrupted")
	return cmd
}

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, then evaluate the final agent once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext(cmd.Context())
			defer cancel()

			if err := a.train(ctx); err != nil {
				return err
			}
			store, closeStore, err := a.newStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			evaluator, err := a.evalRunner(store, true, -1, a.newProgress())
			if err != nil {
				return err
			}
			if err := evaluator.RunExperiment(ctx); err != nil {
				return err
			}
			a.logger.WithField("eval_dir", evaluator.Dir()).Info("experiment complete")
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

func (a *app) trainAndEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train-and-eval",
		Short: "Train and evaluate every checkpoint concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext(cmd.Context())
			defer cancel()

			store, closeStore, err := a.newStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			a.snapshot()
			if err := a.serveMetrics(ctx, store); err != nil {
				return err
			}
			trainer, err := a.trainRunner(store, a.newProgress())
			if err != nil {
				return err
			}
			evaluator, err := a.evalRunner(store, false, a.cfg.Runner.NumIterations-1, nil)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return trainer.RunExperiment(gctx)
			})
			g.Go(func() error {
				return evaluator.RunExperiment(gctx)
			})
			return g.Wait()
		},
	}
	addRunFlags(cmd)
	return cmd
}

func (a *app) dashboardCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve summaries, plots and checkpoints of the base dir over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext(cmd.Context())
			defer cancel()

			store, closeStore, err := a.newStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			server, err := dashboard.NewServer(dashboard.Options{
				BaseDir:          a.cfg.BaseDir,
				Addr:             addr,
				Store:            store,
				CheckpointPrefix: a.cfg.Checkpoint.Prefix,
				Logger:           a.logger,
			})
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().String("checkpoint-store", "file", "Checkpoint store, file or redis")
	return cmd
}

func (a *app) plotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plot",
		Short: "Render PNG plots of every summary tag in every phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := dashboard.NewServer(dashboard.Options{
				BaseDir:          a.cfg.BaseDir,
				CheckpointPrefix: a.cfg.Checkpoint.Prefix,
				Logger:           a.logger,
			})
			if err != nil {
				return err
			}
			phases, err := server.Phases()
			if err != nil {
				return err
			}
			if len(phases) == 0 {
				return fmt.Errorf("no summaries found under %s", a.cfg.BaseDir)
			}
			for _, phase := range phases {
				dir := filepath.Join(a.cfg.BaseDir, phase, "summaries")
				if err := runner.PlotSummaries(dir); err != nil {
					return fmt.Errorf("plotting %s: %w", phase, err)
				}
				a.logger.WithFields(logrus.Fields{
					"phase": phase,
					"dir":   filepath.Join(dir, "plots"),
				}).Info("rendered plots")
			}
			return nil
		},
	}
}
