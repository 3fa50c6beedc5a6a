package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailbox"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/mime"
	"github.com/spf13/cobra"
)

var (
	conversationPages int
	conversationMax   int
)

var conversationCmd = &cobra.Command{
	Use:   "conversation <google_id|email> <address>",
	Short: "Print the mail exchanged with one address",
	Long: `Fetch the messages a user exchanged with one correspondent and print
them oldest first, with HTML-only bodies converted to text.

Examples:
  maileyo conversation 1234567890 alice@example.com
  maileyo conversation 1234567890 alice@example.com --pages 5`,
	Args: cobra.ExactArgs(2),
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

		resp, err := svc.mail.FetchByContact(ctx, user, mailservice.ContactRequest{
			EmailAddress: args[1],
			MaxResults:   conversationMax,
			MaxPages:     conversationPages,
		})
		if err != nil {
			return fmt.Errorf("fetch conversation: %w", err)
		}
		printConversation(cmd.OutOrStdout(), resp.Messages)
		if resp.NextPageToken != "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Older messages available; raise --pages to see them.")
		}
		return nil
	},
}

func printConversation(out io.Writer, msgs []mailbox.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages exchanged with this address.")
		return
	}
	rule := strings.Repeat("-", 72)
	for _, m := range msgs {
		dir := "<-"
		if m.IsSent {
			dir = "->"
		}
		from := m.From
		if m.FromName != "" {
			from = fmt.Sprintf("%s <%s>", m.FromName, m.From)
		}
		fmt.Fprintln(out, rule)
		fmt.Fprintf(out, "%s %s  %s\n", dir, m.Timestamp.Local().Format("2006-01-02 15:04"), from)
		fmt.Fprintf(out, "Subject: %s\n", m.Subject)
		for _, a := range m.Attachments {
			fmt.Fprintf(out, "Attachment: %s (%s, %d bytes)\n", a.Filename, a.MimeType, a.Size)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.TrimSpace(mime.BodyText(m)))
	}
	fmt.Fprintln(out, rule)
}

func init() {
	conversationCmd.Flags().IntVar(&conversationPages, "pages", mailservice.DefaultPages, "pages to fetch")
	conversationCmd.Flags().IntVar(&conversationMax, "max", gmail.DefaultPageSize, "messages per page")
	rootCmd.AddCommand(conversationCmd)
}
