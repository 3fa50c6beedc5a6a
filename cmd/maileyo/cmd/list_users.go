package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maileyo/maileyo/internal/store"
	"github.com/spf13/cobra"
)

var listUsersJSON bool

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List users who have signed in",
	Long: `List every user who has signed in with Google.

Examples:
  maileyo list-users
  maileyo list-users --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := s.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		out := cmd.OutOrStdout()
		if listUsersJSON {
			return outputUsersJSON(out, users)
		}
		if len(users) == 0 {
			fmt.Fprintln(out, "No users found. Users appear here after signing in through /login/google.")
			return nil
		}
		outputUsersTable(out, users)
		return nil
	},
}

func outputUsersTable(out io.Writer, users []store.User) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GOOGLE ID\tEMAIL\tNAME\tLAST LOGIN")
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.GoogleID, u.Email, name, u.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d user(s)\n", len(users))
}

func outputUsersJSON(out io.Writer, users []store.User) error {
	if users == nil {
		users = []store.User{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(users)
}

func init() {
	listUsersCmd.Flags().BoolVar(&listUsersJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listUsersCmd)
}
