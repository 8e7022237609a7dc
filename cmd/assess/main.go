// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/app"
	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/logging"
	"github.com/relabs-tech/vr_assess/internal/protocol"
)

var (
	configPath  string
	logLevel    string
	participant string
	poseSource  string
	seed        uint64

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "assess",
	Short: "VR assessment battery runner",
	Long: `assess runs the head stability, nystagmus, skew and reach tasks against a
pose feed and writes one synchronized text file per data stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadDefaultFile()
		}
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("participant") {
			cfg.Participant = participant
		}
		if flags.Changed("pose") {
			if err := cfg.Set("POSE_SOURCE", poseSource); err != nil {
				return err
			}
		}
		if flags.Changed("seed") {
			cfg.RNGSeed = seed
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		return err
	},
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Run the configured task battery in one participant folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), app.Options{}, func(ctx context.Context, rt *app.Runtime) (app.Result, error) {
			return app.RunBattery(ctx, rt)
		})
	},
}

var reachCmd = &cobra.Command{
	Use:   "reach",
	Short: "Run the finger-target reach task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), app.Options{}, app.RunReachTask)
	},
}

var timedCmd = &cobra.Command{
	Use:   "timed <protocol|file.yaml>",
	Short: "Run one timed-phase task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), app.Options{}, func(ctx context.Context, rt *app.Runtime) (app.Result, error) {
			return app.RunTimedTask(ctx, rt, args[0])
		})
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the battery offline with the simulated participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.Options{Offline: true, PoseSource: config.PoseSourceSim}
		return run(cmd.Context(), opts, func(ctx context.Context, rt *app.Runtime) (app.Result, error) {
			return app.RunBattery(ctx, rt)
		})
	},
}

var protocolsCmd = &cobra.Command{
	Use:   "protocols [name]",
	Short: "List built-in timed protocols, or print one as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			for _, name := range protocol.BuiltinNames() {
				p, _ := protocol.Builtin(name)
				fmt.Fprintf(out, "%-16s %s\n", name, p.Duration())
			}
			fmt.Fprintf(out, "%-16s interactive\n", app.ReachTaskName)
			return nil
		}
		p, err := protocol.Builtin(args[0])
		if err != nil {
			return err
		}
		b, err := protocol.Marshal(p)
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	},
}

func run(ctx context.Context, opts app.Options, fn func(context.Context, *app.Runtime) (app.Result, error)) error {
	rt, err := app.NewRuntime(cfg, logger, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := fn(ctx, rt)
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted, unfinished trials were recorded as aborted")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("run finished",
		zap.Strings("tasks", res.Tasks),
		zap.Bool("complete", res.Completed),
		zap.Uint64("fixed_ticks", res.FixedTicks),
		zap.Uint64("dropped_steps", res.Dropped),
		zap.Duration("elapsed", res.Elapsed),
	)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./"+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&participant, "participant", "p", "", "participant ID")
	rootCmd.PersistentFlags().StringVar(&poseSource, "pose", config.PoseSourceSim, "pose source: sim, mock or mqtt")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "visibility shuffle seed (0 picks one and logs it)")

	rootCmd.AddCommand(batteryCmd, reachCmd, timedCmd, simulateCmd, protocolsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		os.Exit(logging.ExitCode(logger, err))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
