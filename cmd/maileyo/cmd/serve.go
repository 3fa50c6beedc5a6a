package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maileyo/maileyo/internal/api"
	"github.com/maileyo/maileyo/internal/scheduler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the dashboard API server in the foreground.

The server also runs the maintenance jobs configured in config.toml:
  [maintenance]
  enabled = true
  prune_sessions = "0 * * * *"   # drop expired logout records hourly
  prune_tokens = "30 3 * * *"    # drop tokens whose refresh expiry passed

Cron format: minute hour day-of-month month day-of-week

Use Ctrl+C to stop the server gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

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

	sched := scheduler.New().WithLogger(logger)
	opts := []api.Option{api.WithStats(s)}
	if cfg.Maintenance.Enabled {
		count, errs := sched.AddMaintenanceJobs(cfg.Maintenance, s)
		for _, err := range errs {
			logger.Error("failed to schedule job", "error", err)
		}
		if count > 0 {
			sched.Start()
			if cfg.Maintenance.RunImmediately {
				sched.TriggerAll()
			}
			opts = append(opts, api.WithMaintenance(sched))
		}
	}

	apiServer := api.NewServer(cfg, svc.auth, svc.mail, logger, opts...)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fmt.Printf("maileyo started\n")
	fmt.Printf("  API server: http://%s\n", cfg.ListenAddr())
	fmt.Printf("  Database:   %s\n", redactDSN(cfg.DatabaseDSN()))
	fmt.Printf("  Frontend:   %s\n", cfg.Server.FrontendURL)
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next run at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down...")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	if sched.IsRunning() {
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			logger.Warn("maintenance jobs did not finish before timeout")
		}
	}
	return runErr
}
