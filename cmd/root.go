package cmd

import (
	"os"

	"github.com/bramblemesh/bramble/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bramble",
	Short: "Bramble Mesh Node CLI",
	Long: `Bramble is the mesh networking daemon for off-grid sensor stations.
It discovers neighbouring nodes over the shared radio channel, maintains
multi-hop routes, and keeps capture timestamps aligned across the network.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Bramble",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "br",
		Title: "Bramble Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.NodeConfigPath, "node-config", "n", state.NodeConfigPath, "node-specific config")
	rootCmd.PersistentFlags().StringVarP(&state.MeshConfigPath, "mesh-config", "m", state.MeshConfigPath, "network-global config")
}
