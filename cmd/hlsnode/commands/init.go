package commands

import (
	"github.com/spf13/cobra"

	cfg "github.com/hlsnet/hls-core/config"
	tmos "github.com/hlsnet/hls-core/libs/os"
	nm "github.com/hlsnet/hls-core/node"
	"github.com/hlsnet/hls-core/store"
)

// InitFilesCmd initialises a fresh HLS node home.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the node config and header store",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	configFile := cfg.ConfigFilePath(config.RootDir)
	if tmos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
	} else {
		cfg.WriteConfigFile(configFile, config)
		logger.Info("Generated config file", "path", configFile)
	}

	db, err := cfg.DefaultDBProvider(&cfg.DBContext{ID: "headers", Config: config})
	if err != nil {
		return err
	}
	defer db.Close()

	hs, err := store.NewHeaderStore(db)
	if err != nil {
		return err
	}
	genesis := nm.GenesisHeader(config)
	if err := hs.InitGenesis(genesis); err != nil {
		return err
	}
	logger.Info("Initialized header store", "path", config.DBDir(), "genesis", genesis.Hash().Hex())
	return nil
}
