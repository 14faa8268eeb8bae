package cmd

import (
	"log/slog"

	"github.com/bramblemesh/bramble/core"
	"github.com/bramblemesh/bramble/radio"
	"github.com/bramblemesh/bramble/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a bramble node",
	Long:  `This will run a bramble node on the current host, meshing over UDP broadcast on the configured port.`,
	Run: func(cmd *cobra.Command, args []string) {
		mcfg, err := state.LoadMeshConfig(state.MeshConfigPath)
		if err != nil {
			panic(err)
		}
		ncfg, err := state.LoadNodeConfig(state.NodeConfigPath)
		if err != nil {
			panic(err)
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		port, _ := cmd.Flags().GetInt("port")
		r, err := radio.NewUDP(port, slog.Default())
		if err != nil {
			panic(err)
		}
		defer r.Close()

		err = core.Start(mcfg, ncfg, r, level)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "br",
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolP("verbose", "v", false, "enable debug logging")
	runCmd.Flags().IntP("port", "p", 46290, "UDP port used as the shared radio channel")
}
