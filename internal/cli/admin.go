package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediaembed/gallery/internal/admin"
)

var adminPage int

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "List and delete stored records",
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show one page of records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAdminList,
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete records by id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdminDelete,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminListCmd, adminDeleteCmd)
	adminCmd.PersistentFlags().IntVarP(&adminPage, "page", "p", 1, "page number")
}

func printPage(cmd *cobra.Command, page *admin.Page) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), page)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d records)\n\n", page.Number, page.Pages, page.Total)

	return printRecords(cmd.OutOrStdout(), page.Items)
}

func runAdminList(cmd *cobra.Command, _ []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	page, err := admin.NewPager(c, nil).Load(cmd.Context(), adminPage)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	return printPage(cmd, page)
}

// runAdminDelete deletes each id through the pager so the page it shows afterwards is reloaded.
func runAdminDelete(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	pager := admin.NewPager(c, nil)
	if _, err := pager.Load(cmd.Context(), adminPage); err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var page *admin.Page

	for _, id := range args {
		page, err = pager.Delete(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("admin: %w", err)
		}

		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
	}

	return printPage(cmd, page)
}
