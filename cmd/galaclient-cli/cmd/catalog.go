package cmd

import (
	"fmt"
	"os"
	"strings"

	"galaclient-backend/cmd/galaclient-cli/globals"
	"galaclient-backend/cmd/galaclient-cli/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Scrape and list every owned showcase product.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ensureAuthenticated(cmd.Context())
		ctx := globals.Get(cmd.Context())

		catalog, step, err := ctx.Service.GetOwnedProducts(cmd.Context())
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		if step != nil {
			fmt.Fprintln(os.Stderr, "the scrape was challenged, listing the cached catalog")
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"id", "title", "license", "os"})
		for _, entry := range catalog {
			compat := ctx.Service.GetOsCompatibility(cmd.Context(), entry.ProductId)
			tags := make([]string, 0, len(compat))
			for _, tag := range compat {
				tags = append(tags, string(tag))
			}
			t.AppendRow(table.Row{
				entry.ProductId,
				entry.Title,
				string(entry.License),
				strings.Join(tags, ", "),
			})
		}
		t.Render()

		if step != nil {
			printStep(step)
			os.Exit(1)
		}
	},
}
