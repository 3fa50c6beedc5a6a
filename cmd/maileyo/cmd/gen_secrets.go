package cmd

import (
	"fmt"

	"github.com/maileyo/maileyo/internal/fileutil"
	"github.com/maileyo/maileyo/internal/secret"
	"github.com/spf13/cobra"
)

var genSecretsOutput string

var genSecretsCmd = &cobra.Command{
	Use:   "gen-secrets",
	Short: "Generate session and token-encryption secrets",
	Long: `Print fresh random secrets in config.toml form.

With --output the snippet is written to a new owner-only file instead.
An existing file is never overwritten.

Changing jwt_secret signs every user out. Changing encryption_secret makes
stored OAuth tokens unreadable, so users must sign in again.

Examples:
  maileyo gen-secrets >> ~/.maileyo/config.toml
  maileyo gen-secrets --output ~/.maileyo/config.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jwtSecret, err := secret.Generate()
		if err != nil {
			return err
		}
		encSecret, err := secret.Generate()
		if err != nil {
			return err
		}
		snippet := fmt.Sprintf("[auth]\njwt_secret = %q\nencryption_secret = %q\n", jwtSecret, encSecret)

		if genSecretsOutput == "" {
			fmt.Fprint(cmd.OutOrStdout(), snippet)
			return nil
		}
		if err := fileutil.WritePrivate(genSecretsOutput, []byte(snippet)); err != nil {
			return fmt.Errorf("write secrets: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Secrets written to %s\n", genSecretsOutput)
		return nil
	},
}

func init() {
	genSecretsCmd.Flags().StringVarP(&genSecretsOutput, "output", "o", "", "write to a new file instead of stdout")
	rootCmd.AddCommand(genSecretsCmd)
}
