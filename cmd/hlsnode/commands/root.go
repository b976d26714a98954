package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/libs/cli"
	"github.com/hlsnet/hls-core/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
)

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level")
	cmd.PersistentFlags().String("log_format", config.LogFormat, "log format (plain|json)")
}

// ParseConfig retrieves the default environment configuration, sets up the
// HLS root and ensures that the root exists.
func ParseConfig(cmd *cobra.Command) (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	err := viper.Unmarshal(conf)
	if err != nil {
		return nil, err
	}

	var home string
	if os.Getenv("HLSHOME") != "" {
		home = os.Getenv("HLSHOME")
	} else {
		home, err = cmd.Flags().GetString(cli.HomeFlag)
		if err != nil {
			return nil, err
		}
	}

	conf.SetRoot(home)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// newLogger returns a logger writing in format and filtered at level.
func newLogger(format, level string) (log.Logger, error) {
	l, err := log.NewLoggerWithFormat(log.NewSyncWriter(os.Stdout), format)
	if err != nil {
		return nil, err
	}
	option, err := log.AllowLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewFilter(l, option), nil
}

// RootCmd is the root command for HLS core.
var RootCmd = &cobra.Command{
	Use:   "hlsnode",
	Short: "Header chain node syncing headers from the heaviest peer",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		config, err = ParseConfig(cmd)
		if err != nil {
			return err
		}

		logger, err = newLogger(config.LogFormat, config.LogLevel)
		if err != nil {
			return err
		}

		logger = logger.With("module", "main")
		return nil
	},
}
