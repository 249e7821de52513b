package cmd

import (
	"galaclient-backend/cmd/galaclient-cli/globals"
	"galaclient-backend/cmd/galaclient-cli/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(compatCmd)
}

var compatCmd = &cobra.Command{
	Use:   "compat <product id>",
	Short: "List the operating systems a product has cached builds for.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

		compat := ctx.Service.GetOsCompatibility(cmd.Context(), args[0])

		t := utils.NewTable()
		t.AppendHeader(table.Row{"os"})
		for _, tag := range compat {
			t.AppendRow(table.Row{string(tag)})
		}
		t.Render()
	},
}
