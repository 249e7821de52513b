package cmd

import (
	"fmt"
	"os"

	"galaclient-backend/cmd/galaclient-cli/globals"
	"galaclient-backend/lib/scrapers/indiegala"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(installCmd)
}

var installCmd = &cobra.Command{
	Use:   "install <product id> [win|lin|mac]",
	Short: "Resolve a product's build download, for this machine's OS by default.",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

		var err error
		if len(args) == 2 {
			osTag := indiegala.OsTag(args[1])
			if !indiegala.IsKnownOsTag(osTag) {
				fmt.Fprintf(os.Stderr, "'%s' is not a known os tag\n", args[1])
				os.Exit(1)
			}
			err = ctx.Service.InstallProductFor(cmd.Context(), args[0], osTag)
		} else {
			err = ctx.Service.InstallProduct(cmd.Context(), args[0])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	},
}
