package experiments

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zeu5/recsim-rl/config"
	"github.com/zeu5/recsim-rl/logging"
)

// app is the state shared by the subcommands of one root command
type app struct {
	v          *viper.Viper
	configPath string
	progress   bool

	cfg    *config.Config
	logger *logrus.Logger
}

func GetRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCommand := &cobra.Command{
		Use:           "recsim",
		Short:         "Train and evaluate slate recommender agents on a simulated user population",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	rootCommand.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML experiment config")
	rootCommand.PersistentFlags().StringP("base-dir", "s", "./results", "Save the results in the specified folder")
	rootCommand.PersistentFlags().String("log-level", "info", "Log level")
	rootCommand.PersistentFlags().String("log-format", "text", "Log format, text or json")
	rootCommand.PersistentFlags().BoolVar(&a.progress, "progress", false, "Show a live progress line")

	// adding the subcommands here
	rootCommand.AddCommand(a.trainCommand())
	rootCommand.AddCommand(a.evalCommand())
	rootCommand.AddCommand(a.runCommand())
	rootCommand.AddCommand(a.trainAndEvalCommand())
	rootCommand.AddCommand(a.dashboardCommand())
	rootCommand.AddCommand(a.plotCommand())
	return rootCommand
}

// load binds the flags of cmd to the config keys and reads the config
func (a *app) load(cmd *cobra.Command) error {
	bindings := map[string]string{
		"base_dir":                    "base-dir",
		"log.level":                   "log-level",
		"log.format":                  "log-format",
		"metrics.addr":                "metrics-addr",
		"checkpoint.store":            "checkpoint-store",
		"runner.stop_after_iteration": "stop-after-iteration",
	}
	for key, name := range bindings {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := a.v.BindPFlag(key, flag); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log.Level, cfg.Log.Format)
	a.logger.WithFields(logrus.Fields{
		"command":  cmd.Name(),
		"base_dir": cfg.BaseDir,
		"agent":    cfg.Agent.Name,
	}).Debug("loaded config")
	return nil
}
