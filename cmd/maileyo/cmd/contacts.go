package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailbox"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/textutil"
	"github.com/spf13/cobra"
)

var (
	contactsFolder string
	contactsPages  int
	contactsMax    int
)

var contactsCmd = &cobra.Command{
	Use:   "contacts <google_id|email>",
	Short: "Print a user's contact list",
	Long: `Fetch pages of a folder from Gmail as the given user and print one row
per correspondent, newest first. Unread rows are marked with *.

Folders: ` + strings.Join(gmail.FolderNames(), ", ") + `

Examples:
  maileyo contacts 1234567890
  maileyo contacts 1234567890 --folder Sent --pages 3`,
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

		page, err := svc.mail.Contacts(ctx, user, mailservice.ContactsRequest{
			Folder:     contactsFolder,
			MaxResults: contactsMax,
			Pages:      contactsPages,
		})
		if err != nil {
			return fmt.Errorf("fetch contacts: %w", err)
		}
		printContacts(cmd.OutOrStdout(), page, time.Now())
		return nil
	},
}

func printContacts(out io.Writer, page *mailbox.Page[mailbox.Contact], now time.Time) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No messages in this folder.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tNAME\tEMAIL\tWHEN\tLABELS\tPREVIEW")
	for _, c := range page.Items {
		mark := " "
		if c.Unread {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			mark,
			textutil.Ellipsize(c.Name, 24),
			c.Email,
			mailbox.RelativeTime(c.Timestamp.Time, now),
			strings.Join(c.DisplayLabels, ","),
			textutil.Ellipsize(c.Preview, 60),
		)
	}
	w.Flush()
	if page.HasMore() {
		fmt.Fprintln(out, "\nMore messages available; raise --pages to see them.")
	}
}

func init() {
	contactsCmd.Flags().StringVar(&contactsFolder, "folder", gmail.DefaultFolder, "folder to list")
	contactsCmd.Flags().IntVar(&contactsPages, "pages", mailservice.DefaultPages, "pages to fetch")
	contactsCmd.Flags().IntVar(&contactsMax, "max", gmail.DefaultPageSize, "messages per page")
	rootCmd.AddCommand(contactsCmd)
}
