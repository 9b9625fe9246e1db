package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/utils"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage stored face profiles",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Cobra only runs the nearest PersistentPreRunE, so chain to root's.
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return requireDB()
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored profiles",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

var profilesRenameCmd = &cobra.Command{
	Use:   "rename <old_name> <new_name>",
	Short: "Rename a stored profile",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := DB.RenameProfile(cmd.Context(), args[0], args[1]); err != nil {
			utils.Die("Failed to rename profile", err, nil)
		}
		fmt.Printf("✅ Profile '%s' renamed to '%s'\n", args[0], args[1])
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := DB.DeleteProfile(cmd.Context(), args[0]); err != nil {
			utils.Die("Failed to delete profile", err, nil)
		}
		fmt.Printf("🗑️  Profile '%s' deleted\n", args[0])
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesRenameCmd, profilesDeleteCmd)
	rootCmd.AddCommand(profilesCmd)
}

func runList(ctx context.Context) {
	profiles, err := DB.ListProfiles(ctx)
	if err != nil {
		utils.Die("Failed to list profiles", err, nil)
	}

	if len(profiles) == 0 {
		fmt.Println("No profiles found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tLANDMARKS\tREGISTERED")
	fmt.Fprintln(w, "----\t---------\t----------")

	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name, p.PointCount, p.RegisteredAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
