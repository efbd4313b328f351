// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"vawter.tech/sequencer"
	"vawter.tech/sequencer/jsbind"
	"vawter.tech/stopper/v2"
)

const (
	burstF     = "burst"
	configF    = "config"
	graceF     = "grace"
	nameF      = "name"
	rateF      = "rate"
	timeoutF   = "timeout"
	verbosityF = "verbosity"

	defaultBurst     = 1
	defaultGrace     = 5 * time.Second
	defaultName      = jsbind.DefaultName
	defaultRate      = 0.0
	defaultTimeout   = time.Duration(0)
	defaultVerbosity = "info"

	burstUsage     = "The number of steps that may run without waiting when --rate is set."
	configUsage    = "The yaml configuration file."
	graceUsage     = "How long the script may take to unwind after an interrupt."
	nameUsage      = "The name attached to each run in log messages."
	rateUsage      = "The maximum number of steps per second. Zero disables pacing."
	timeoutUsage   = "Abandon the script after this duration. Zero waits forever."
	verbosityUsage = `Verbosity of the logs. Options:
debug, info, warn, error`
)

// Config holds the merged flag and file settings.
type Config struct {
	Burst     int           `mapstructure:"burst"`
	Grace     time.Duration `mapstructure:"grace"`
	Name      string        `mapstructure:"name"`
	Rate      float64       `mapstructure:"rate"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Verbosity string        `mapstructure:"verbosity"`
}

// NewCmd returns the root command. The script stops gracefully when a
// value is received from signals.
func NewCmd(signals <-chan os.Signal) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "seqjs [flags] script.js",
		Short: "Run a JavaScript program with the iterate function installed.",
		Args:  cobra.ExactArgs(1),
	}
	cmd.SilenceUsage = true

	cmd.Flags().StringVar(&cfgFile, configF, "", configUsage)
	cmd.Flags().Int(burstF, defaultBurst, burstUsage)
	cmd.Flags().Duration(graceF, defaultGrace, graceUsage)
	cmd.Flags().String(nameF, defaultName, nameUsage)
	cmd.Flags().Float64(rateF, defaultRate, rateUsage)
	cmd.Flags().Duration(timeoutF, defaultTimeout, timeoutUsage)
	cmd.Flags().String(verbosityF, defaultVerbosity, verbosityUsage)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		if cfgFile != "" {
			v.SetConfigType("yaml")
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		}
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		cfg := new(Config)
		if err := v.Unmarshal(cfg); err != nil {
			return err
		}

		level, err := zapcore.ParseLevel(cfg.Verbosity)
		if err != nil {
			return fmt.Errorf("--%s: %w", verbosityF, err)
		}
		logger := zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(cmd.ErrOrStderr()),
			level,
		))
		defer func() { _ = logger.Sync() }()

		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		return run(cmd, cfg, logger, signals, args[0], string(src))
	}

	return cmd
}

// run executes the script as a stopper task. An interrupt abandons any
// pending timers and the grace period bounds how long the task may take
// to unwind.
func run(
	cmd *cobra.Command,
	cfg *Config,
	logger *zap.Logger,
	signals <-chan os.Signal,
	name, src string,
) error {
	ctx := stopper.WithContext(cmd.Context())
	stopper.StopOnReceive(ctx, signals, stopper.StopGracePeriod(cfg.Grace))

	opts := []jsbind.Option{
		jsbind.WithLogger(logger),
		jsbind.WithOutput(cmd.OutOrStdout()),
		jsbind.WithSequencerOptions(sequencer.WithName(cfg.Name)),
	}
	if cfg.Rate > 0 {
		opts = append(opts, jsbind.WithRate(cfg.Rate, cfg.Burst))
	}
	loop, err := jsbind.NewLoop(opts...)
	if err != nil {
		return err
	}

	runErr := ctx.Call(func(ctx stopper.Context) error {
		loopCtx := ctx.StoppingContext()
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			loopCtx, cancel = context.WithTimeout(loopCtx, cfg.Timeout)
			defer cancel()
		}
		return loop.Run(loopCtx, name, src)
	})
	ctx.Stop(stopper.StopOnIdle())
	if err := ctx.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		logger.Debug("script failed", zap.String("script", name), zap.Error(runErr))
	}
	return runErr
}
