package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regwatch/regvelocity/internal/clock/system"
	"github.com/regwatch/regvelocity/internal/config"
	"github.com/regwatch/regvelocity/internal/extract"
	"github.com/regwatch/regvelocity/internal/fetcher/ecfr"
	hashsha256 "github.com/regwatch/regvelocity/internal/hash/sha256"
	"github.com/regwatch/regvelocity/internal/policy/ratelimit"
	"github.com/regwatch/regvelocity/internal/publisher/memory"
	"github.com/regwatch/regvelocity/internal/publisher/pubsub"
	"github.com/regwatch/regvelocity/internal/regdata"
	"github.com/regwatch/regvelocity/internal/storage/gcs"
	"github.com/regwatch/regvelocity/internal/storage/local"
	"github.com/regwatch/regvelocity/internal/storage/postgres"
	"github.com/regwatch/regvelocity/internal/syncer"
)

// newSyncCmd creates the 'sync' subcommand: one full snapshot synchronization pass.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Runs one snapshot synchronization pass",
		Long: `Fetches the agency directory, then syncs every referenced title at each
configured snapshot date. Previously resolved (title, date) pairs are never
re-fetched; the pass is safe to re-run.`,
		RunE: runSyncCommand,
	}
}

func runSyncCommand(cmd *cobra.Command, _ []string) error {
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

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	dates, err := cfg.SnapshotDates()
	if err != nil {
		return err
	}

	client := ecfr.New(ecfr.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		Mode:      cfg.Fetch.Mode,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, logger)

	archive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	publisher, cleanup, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	s := syncer.New(
		client,
		client,
		extract.New(hashsha256.New()),
		store,
		syncer.NewDedupCache(store),
		syncer.NewRetryPolicy(cfg.Fetch.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax()),
		ratelimit.New(cfg.PolitenessInterval()),
		system.New(),
		archive,
		publisher,
		syncer.Config{
			SnapshotDates:      dates,
			AgencyLimit:        cfg.Sync.AgencyLimit,
			ArchivePrefix:      cfg.Storage.Prefix,
			ArchiveContentType: cfg.Storage.ContentType,
			Topic:              cfg.PubSub.TopicName,
		},
		logger,
	)

	sum, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	logger.Info("sync finished", zap.String("run_id", sum.RunID))
	return nil
}

// buildArchive wires the optional raw-content archive: GCS when a bucket is
// configured, local filesystem otherwise, nil when archival is disabled.
func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (regdata.BlobStore, error) {
	if !cfg.Sync.ArchiveRaw || cfg.Fetch.Mode != config.FetchModeFull {
		return nil, nil
	}
	if cfg.Storage.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	}
	if cfg.Storage.LocalDir != "" {
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	}
	logger.Warn("archive_raw enabled but no gcs_bucket or local_dir configured; archival disabled")
	return nil, nil
}

// buildPublisher wires the publisher for stored-snapshot events: Pub/Sub when
// a project is configured, the in-memory publisher when only a topic is set,
// nil when event publishing is disabled.
func buildPublisher(ctx context.Context, cfg config.Config) (regdata.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, nil, nil
	}
	if cfg.PubSub.ProjectID == "" {
		return memory.New(), nil, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		_ = client.Close()
	}
	return pubsub.New(topic), cleanup, nil
}
