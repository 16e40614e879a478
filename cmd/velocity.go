package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/regwatch/regvelocity/internal/storage/postgres"
	"github.com/regwatch/regvelocity/internal/velocity"
)

// newVelocityCmd creates the 'velocity' subcommand: prints one agency's stats.
func newVelocityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "velocity <agency-slug>",
		Short: "Prints velocity stats for one agency as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runVelocityCommand,
	}
}

func runVelocityCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	slug := args[0]
	agency, err := store.GetAgency(ctx, slug)
	if err != nil {
		return err
	}
	points, err := store.AgencyHistory(ctx, slug)
	if err != nil {
		return err
	}

	out := struct {
		Slug  string         `json:"slug"`
		Name  string         `json:"name"`
		Stats velocity.Stats `json:"stats"`
	}{
		Slug:  agency.Slug,
		Name:  agency.Name,
		Stats: velocity.Compute(points),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
