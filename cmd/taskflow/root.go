package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	planFlag      = "plan"
	capacityFlag  = "capacity"
	retriesFlag   = "retries"
	backfillFlag  = "backfill"
	logLevelFlag  = "log-level"
	logFormatFlag = "log-format"

	retriesConf   = "retry.max"
	backfillConf  = "scheduler.backfill"
	logLevelConf  = "log.level"
	logFormatConf = "log.format"
)

// newRootCommand lets every subcommand read settings from flags, then
// environment variables prefixed with TASKFLOW, then config.yaml.
func newRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("TASKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	for _, path := range []string{"/etc/taskflow", "$HOME/.taskflow", "."} {
		viper.AddConfigPath(path)
	}
	_ = viper.ReadInConfig()

	return &cobra.Command{
		Use:           "taskflow",
		Short:         "Run dependent tasks under resource limits",
		Long:          "taskflow runs a YAML plan of tasks with dependencies, priorities and resource costs, and reports the progress of each task.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
}

// mustBindPFlag binds a viper key to a cobra flag and panics if that
// fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}
