package cmd

import (
	"fmt"

	"github.com/bramblemesh/bramble/storage"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect [data-dir]",
	Aliases: []string{"i"},
	Short:   "Inspects the event journal of a bramble node",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Println("Usage: bramble inspect <data-dir>")
			return
		}
		j, err := storage.Open(args[0])
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		defer j.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := j.RecentEvents(limit)
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		for _, e := range events {
			fmt.Println(e)
		}
	},
	GroupID: "br",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntP("limit", "l", 50, "maximum events to print")
}
