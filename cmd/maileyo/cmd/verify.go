package cmd

import (
	"fmt"
	"io"

	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <google_id|email>",
	Short: "Check that a user's stored credentials reach Gmail",
	Long: `Refresh the user's access token and fetch their Gmail profile. Prints
the mailbox address and message totals, and warns when the address Gmail
reports differs from the one stored at login.

A user whose refresh token was revoked fails here with an authorization
error; they need to sign in again.

Examples:
  maileyo verify 1234567890
  maileyo verify ada@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		svc, err := buildServices(ctx, s)
		if err != nil {
			return err
		}
		user, err := mailUserFor(ctx, s, args[0])
		if err != nil {
			return err
		}

		profile, err := svc.mail.Profile(ctx, user)
		if err != nil {
			return fmt.Errorf("verify %s: %w", user.Email, err)
		}
		printProfile(cmd.OutOrStdout(), user, profile)
		return nil
	},
}

func printProfile(out io.Writer, u mailservice.User, p *gmail.Profile) {
	fmt.Fprintf(out, "User:      %s\n", u.GoogleID)
	fmt.Fprintf(out, "Mailbox:   %s\n", p.EmailAddress)
	fmt.Fprintf(out, "Messages:  %10d\n", p.MessagesTotal)
	fmt.Fprintf(out, "Threads:   %10d\n", p.ThreadsTotal)
	if p.EmailAddress != u.Email {
		fmt.Fprintf(out, "\nWarning: stored address is %s; the user should sign in again.\n", u.Email)
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
