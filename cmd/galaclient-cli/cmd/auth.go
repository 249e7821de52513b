package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"galaclient-backend/cmd/galaclient-cli/globals"
	"galaclient-backend/cmd/galaclient-cli/utils"
	"galaclient-backend/lib/scrapers/indiegala"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the storefront session.",
}

func loadCookies(path string) map[string]string {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cookies map[string]string
	err = json.Unmarshal(contents, &cookies)
	if err != nil {
		return nil
	}
	return cookies
}

// SaveCookies is the credential sink the CLI plugs into the service.
func SaveCookies(path string, cookies map[string]string) error {
	contents, err := json.MarshalIndent(cookies, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, contents, 0600)
}

// printStep dumps a browser step the way the plugin host would receive
// it, so the cookies it yields can be fed back through `auth resume`.
func printStep(step *indiegala.BrowserStep) {
	out, err := json.MarshalIndent(step, "", "    ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(string(out))
	fmt.Println()
	fmt.Println("Complete this step in a browser, then run: galaclient-cli auth resume <cookies.json>")
}

func printIdentity(identity *indiegala.Identity) {
	t := utils.NewTable()
	t.AppendHeader(table.Row{"username"})
	t.AppendRow(table.Row{identity.Username})
	t.Render()
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Resume the stored session, or print the browser step a fresh login needs.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

		identity, step, err := ctx.Service.Authenticate(cmd.Context(), loadCookies(ctx.CookieFile))
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		if step != nil {
			printStep(step)
			return
		}
		printIdentity(identity)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <cookies.json>",
	Short: "Report the cookies a completed browser step produced.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

		cookies := loadCookies(args[0])
		if len(cookies) == 0 {
			fmt.Fprintf(os.Stderr, "no cookies could be read from '%s'\n", args[0])
			os.Exit(1)
		}

		identity, step, err := ctx.Service.PassLoginCredentials(cmd.Context(), cookies)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		if step != nil {
			printStep(step)
			return
		}
		printIdentity(identity)
	},
}

// ensureAuthenticated resolves the stored session and bails out with
// the pending browser step when there is no authenticated user.
func ensureAuthenticated(ctx context.Context) {
	value := globals.Get(ctx)

	_, step, err := value.Service.Authenticate(ctx, loadCookies(value.CookieFile))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if step != nil {
		printStep(step)
		os.Exit(1)
	}
}
