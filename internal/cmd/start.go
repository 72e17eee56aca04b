package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drip-org/drip/internal/config"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/supervisor"
)

func startCmd() *cobra.Command {
	var (
		envFile string
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the controller until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}

			opts := []logger.Option{
				logger.WithLevel(cfg.LogLevel),
				logger.WithFormat(cfg.LogFormat),
			}
			if quiet || cfg.Quiet {
				opts = append(opts, logger.WithQuiet())
			}
			lg := logger.NewLogger(opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithLogger(ctx, lg)

			for _, w := range cfg.Warnings {
				logger.Warn(ctx, w)
			}

			sup, err := supervisor.New(cfg)
			if err != nil {
				return err
			}
			return sup.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output to stderr")
	return cmd
}

func loadConfig(envFile string) (*config.Config, error) {
	var opts []config.Option
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	return config.Load(opts...)
}
