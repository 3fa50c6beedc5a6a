package cmd

import (
	"fmt"
	"net/url"

	"github.com/maileyo/maileyo/internal/store"
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the maileyo database with the required schema.

This creates the users, oauth_tokens and revoked_sessions tables. It is
safe to run multiple times; tables are only created if they don't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := cfg.DatabaseDSN()
		logger.Info("initializing database", "dsn", redactDSN(dsn))

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s\n", redactDSN(dsn))
		fmt.Fprintf(out, "  Users:            %d\n", stats.UserCount)
		fmt.Fprintf(out, "  Tokens:           %d\n", stats.TokenCount)
		fmt.Fprintf(out, "  Revoked sessions: %d\n", stats.RevokedSessionCount)
		if stats.DatabaseSize > 0 {
			fmt.Fprintf(out, "  Size:             %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		}
		return nil
	},
}

// redactDSN hides the password of a PostgreSQL URL.
func redactDSN(dsn string) string {
	if !store.IsPostgresDSN(dsn) {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://(unparseable)"
	}
	return u.Redacted()
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
