package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maileyo/maileyo/internal/config"
	"github.com/maileyo/maileyo/internal/fileutil"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

// Commands that run without loading config.toml.
var noConfig = map[string]bool{
	"gen-secrets": true,
	"help":        true,
	"completion":  true,
}

var rootCmd = &cobra.Command{
	Use:   "maileyo",
	Short: "Gmail dashboard backend",
	Long: `maileyo serves the HTTP API behind the mail dashboard: Google sign-in,
folder listings, conversations grouped by contact, sending and attachment
download. Mail is never stored; every view is fetched from Gmail on demand.

The same binary carries admin commands for the user database and for
inspecting a signed-in user's mailbox from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Stderr, verbose)
		slog.SetDefault(logger)

		if noConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := fileutil.MkdirPrivate(cfg.Data.DataDir); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}
		return nil
	},
}

// newLogger writes text to terminals and JSON everywhere else.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.maileyo/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MAILEYO_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
