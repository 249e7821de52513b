package cmd

import (
	"context"
	"fmt"
	"os"

	"galaclient-backend/cmd/galaclient-cli/globals"
	"galaclient-backend/services/galaxy"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "galaclient-cli",
	Short: "galaclient-cli drives the Indiegala showcase client from a terminal.",
}

func ExecuteContext(ctx context.Context, service *galaxy.Service, cookieFile string) {
	ctx = globals.Set(ctx, &globals.Value{
		Service:    service,
		CookieFile: cookieFile,
	})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
