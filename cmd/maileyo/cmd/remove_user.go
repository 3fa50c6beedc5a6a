package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var removeUserYes bool

var removeUserCmd = &cobra.Command{
	Use:   "remove-user <google_id|email>",
	Short: "Remove a user and their stored tokens",
	Long: `Remove a user and the OAuth tokens held for them. Their sessions stop
working at the next request because the user no longer exists.

Mail is not affected; maileyo never stores it.

Examples:
  maileyo remove-user 1234567890
  maileyo remove-user ada@example.com --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		u, err := lookupUser(ctx, s, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:  %s\n", u.GoogleID)
		fmt.Fprintf(out, "Email: %s\n", u.Email)

		if !removeUserYes {
			fmt.Fprint(out, "\nRemove this user and their tokens? [y/N] ")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Scan()
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}

		if err := s.DeleteUser(ctx, u.GoogleID); err != nil {
			return fmt.Errorf("remove user: %w", err)
		}
		logger.Info("user removed", "google_id", u.GoogleID)
		fmt.Fprintf(out, "Removed %s.\n", u.Email)
		return nil
	},
}

func init() {
	removeUserCmd.Flags().BoolVarP(&removeUserYes, "yes", "y", false, "skip confirmation prompt")
	rootCmd.AddCommand(removeUserCmd)
}
