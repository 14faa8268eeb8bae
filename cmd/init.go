package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bramblemesh/bramble/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [id] [name]",
	Short: "Create a node configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 2 {
			_ = cmd.Usage()
			return
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || id == 0 {
			fmt.Printf("Invalid node id: %s (must be a positive integer)\n", args[0])
			os.Exit(-1)
		}

		nodeCfg := state.NodeCfg{
			Id:           state.NodeId(id),
			Name:         args[1],
			Capabilities: state.CapBasic,
		}
		if err := state.NodeConfigValidator(&nodeCfg); err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
			os.Exit(-1)
		}

		ncfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			panic(err)
		}
		err = os.WriteFile(state.NodeConfigPath, ncfg, 0700)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

var netCmd = &cobra.Command{
	Use:   "net [network-name]",
	Short: "Create a network configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}

		meshCfg := state.MeshCfg{Network: args[0]}
		if err := state.MeshConfigValidator(&meshCfg); err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
			os.Exit(-1)
		}

		mcfg, err := yaml.Marshal(&meshCfg)
		if err != nil {
			panic(err)
		}
		err = os.WriteFile(state.MeshConfigPath, mcfg, 0700)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(netCmd)
}
