package main

import (
	"os"
	"path/filepath"

	cmd "github.com/hlsnet/hls-core/cmd/hlsnode/commands"
	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/libs/cli"
	nm "github.com/hlsnet/hls-core/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.ShowHeadCmd,
		cmd.SimulateCmd,
		cmd.VersionCmd,
	)

	// Create & start node
	rootCmd.AddCommand(cmd.NewRunNodeCmd(nm.DefaultNewNode))

	exec := cli.PrepareBaseCmd(rootCmd, "HLS", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultHLSDir)))
	if err := exec.Execute(); err != nil {
		panic(err)
	}
}
