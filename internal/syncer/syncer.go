// Package syncer implements the snapshot synchronization pass: it walks the
// agency directory, fetches each referenced title at the configured snapshot
// dates, and persists metrics idempotently.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regwatch/regvelocity/internal/extract"
	"github.com/regwatch/regvelocity/internal/policy/ratelimit"
	"github.com/regwatch/regvelocity/internal/regdata"
	"github.com/regwatch/regvelocity/internal/telemetry"
)

const dateLayout = "2006-01-02"

// Config controls orchestrator behavior.
type Config struct {
	// SnapshotDates are the dates to sync, most-recent first.
	SnapshotDates []time.Time
	// AgencyLimit caps how many agencies are processed; 0 means the full set.
	AgencyLimit int
	// ArchivePrefix and ArchiveContentType apply when a blob store is wired.
	ArchivePrefix      string
	ArchiveContentType string
	// Topic names the pub/sub destination for stored-snapshot events.
	Topic string
}

// Summary reports what one sync pass did.
type Summary struct {
	RunID           string        `json:"run_id"`
	Agencies        int           `json:"agencies"`
	References      int           `json:"references"`
	SnapshotsStored int           `json:"snapshots_stored"`
	DedupHits       int           `json:"dedup_hits"`
	ZeroSizeSkipped int           `json:"zero_size_skipped"`
	PairsExhausted  int           `json:"pairs_exhausted"`
	Duration        time.Duration `json:"duration"`
}

// pauseController abstracts how the syncer waits between retries.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Syncer drives the sequential sync loop. One logical worker, no parallel
// fetches: concurrency is traded for strict pacing of upstream requests.
type Syncer struct {
	directory regdata.DirectoryFetcher
	content   regdata.ContentFetcher
	extractor *extract.Extractor
	store     regdata.Store
	dedup     *DedupCache
	retry     *RetryPolicy
	limiter   ratelimit.Pauser
	backoff   pauseController
	clock     regdata.Clock
	archive   regdata.BlobStore // optional
	publisher regdata.Publisher // optional
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Syncer. archive and publisher may be nil to disable
// raw-content archival and event publishing.
func New(
	directory regdata.DirectoryFetcher,
	content regdata.ContentFetcher,
	extractor *extract.Extractor,
	store regdata.Store,
	dedup *DedupCache,
	retry *RetryPolicy,
	limiter ratelimit.Pauser,
	clock regdata.Clock,
	archive regdata.BlobStore,
	publisher regdata.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		directory: directory,
		content:   content,
		extractor: extractor,
		store:     store,
		dedup:     dedup,
		retry:     retry,
		limiter:   limiter,
		backoff:   timerPauseController{},
		clock:     clock,
		archive:   archive,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one full sync pass. Only a missing or empty agency directory
// is fatal; per-pair failures are logged and the pass continues. Running the
// same configuration twice produces no duplicate rows and no repeat fetches.
func (s *Syncer) Run(ctx context.Context) (Summary, error) {
	start := s.clock.Now()
	sum := Summary{RunID: uuid.NewString()}

	feed, err := s.directory.FetchDirectory(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch agency directory: %w", err)
	}
	agencies := feed.Flatten()
	if len(agencies) == 0 {
		return sum, fmt.Errorf("agency directory is empty: nothing to synchronize")
	}
	if s.cfg.AgencyLimit > 0 && len(agencies) > s.cfg.AgencyLimit {
		agencies = agencies[:s.cfg.AgencyLimit]
	}

	s.logger.Info("sync pass starting",
		zap.String("run_id", sum.RunID),
		zap.Int("agencies", len(agencies)),
		zap.Int("snapshot_dates", len(s.cfg.SnapshotDates)),
		zap.Int("max_attempts", s.retry.MaxAttempts()),
	)

	for _, fa := range agencies {
		if err := s.syncAgency(ctx, sum.RunID, fa, &sum); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			s.logger.Error("agency sync failed",
				zap.String("agency", fa.Slug), zap.Error(err))
		}
	}

	sum.Duration = s.clock.Now().Sub(start)
	telemetry.ObserveSyncDuration(sum.Duration)
	s.logger.Info("sync pass complete",
		zap.String("run_id", sum.RunID),
		zap.Int("agencies", sum.Agencies),
		zap.Int("references", sum.References),
		zap.Int("snapshots_stored", sum.SnapshotsStored),
		zap.Int("dedup_hits", sum.DedupHits),
		zap.Int("zero_size_skipped", sum.ZeroSizeSkipped),
		zap.Int("pairs_exhausted", sum.PairsExhausted),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (s *Syncer) syncAgency(ctx context.Context, runID string, fa regdata.FeedAgency, sum *Summary) error {
	agency := regdata.Agency{
		Slug:        fa.Slug,
		Name:        fa.Name,
		ShortName:   fa.ShortName,
		LastUpdated: s.clock.Now(),
	}
	if err := s.store.UpsertAgency(ctx, agency); err != nil {
		return fmt.Errorf("upsert agency %s: %w", fa.Slug, err)
	}
	sum.Agencies++

	for _, ref := range fa.References {
		r := regdata.TitleReference{AgencySlug: fa.Slug, Title: ref.Title, Chapter: ref.Chapter}
		if err := s.store.EnsureReference(ctx, r); err != nil {
			s.logger.Error("ensure reference failed",
				zap.String("agency", fa.Slug), zap.Int("title", ref.Title), zap.Error(err))
			continue
		}
		sum.References++

		for _, date := range s.cfg.SnapshotDates {
			if err := s.syncPair(ctx, runID, ref.Title, date, sum); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("pair unresolved",
					zap.Int("title", ref.Title),
					zap.String("date", date.Format(dateLayout)),
					zap.Error(err))
			}
		}
	}

	s.refreshLatest(ctx, fa.Slug)
	return nil
}

func (s *Syncer) syncPair(ctx context.Context, runID string, title int, date time.Time, sum *Summary) error {
	hit, err := s.dedup.Has(ctx, title, date)
	if err != nil {
		return err
	}
	if hit {
		s.dedup.Mark(title, date)
		sum.DedupHits++
		return nil
	}

	content, err := s.fetchWithRetry(ctx, title, date)
	if err != nil {
		// A canceled run is not an exhausted pair.
		if ctx.Err() == nil {
			sum.PairsExhausted++
			telemetry.IncPairExhausted()
		}
		return err
	}

	metrics := s.extractor.Extract(content)
	if metrics.Empty() {
		// An upstream miss, not a real empty document. Not marked resolved
		// and not persisted; a future run retries the pair.
		sum.ZeroSizeSkipped++
		s.logger.Warn("zero-size content skipped",
			zap.Int("title", title), zap.String("date", date.Format(dateLayout)))
		return nil
	}

	snap := regdata.Snapshot{
		Title:       title,
		Date:        date,
		ByteSize:    metrics.ByteSize,
		WordCount:   metrics.WordCount,
		Fingerprint: metrics.Fingerprint,
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("insert snapshot title %d at %s: %w", title, date.Format(dateLayout), err)
	}
	s.dedup.Mark(title, date)
	sum.SnapshotsStored++
	telemetry.IncSnapshotStored()

	s.archiveRaw(ctx, title, date, content)
	s.publishStored(ctx, runID, snap)
	return nil
}

// fetchWithRetry runs one fetch through the retry policy. The politeness
// limiter gates every attempt, retries included, so the minimum inter-request
// interval holds regardless of retry behavior.
func (s *Syncer) fetchWithRetry(ctx context.Context, title int, date time.Time) (regdata.Content, error) {
	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return regdata.Content{}, fmt.Errorf("politeness wait: %w", err)
		}
		content, err := s.content.FetchContent(ctx, title, date)
		if err == nil {
			telemetry.IncFetchAttempt(telemetry.OutcomeSuccess)
			return content, nil
		}
		telemetry.IncFetchAttempt(telemetry.OutcomeFailure)
		s.logger.Warn("fetch attempt failed",
			zap.Int("title", title),
			zap.String("date", date.Format(dateLayout)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !s.retry.ShouldRetry(err, attempt) {
			return regdata.Content{}, fmt.Errorf("fetch title %d at %s after %d attempts: %w",
				title, date.Format(dateLayout), attempt, err)
		}
		s.backoff.Pause(ctx, s.retry.Backoff(attempt))
	}
}

// refreshLatest denormalizes the newest aggregate point onto the agency row
// for cheap display queries.
func (s *Syncer) refreshLatest(ctx context.Context, slug string) {
	points, err := s.store.AgencyHistory(ctx, slug)
	if err != nil {
		s.logger.Error("agency history read failed", zap.String("agency", slug), zap.Error(err))
		return
	}
	if len(points) == 0 {
		return
	}
	latest := points[0]
	if err := s.store.UpdateAgencyLatest(ctx, slug, latest.Metric, latest.Date); err != nil {
		s.logger.Error("agency latest update failed", zap.String("agency", slug), zap.Error(err))
	}
}

func (s *Syncer) archiveRaw(ctx context.Context, title int, date time.Time, content regdata.Content) {
	if s.archive == nil || content.Kind != regdata.KindRaw {
		return
	}
	path := fmt.Sprintf("%s/title-%d/%s.xml", s.cfg.ArchivePrefix, title, date.Format(dateLayout))
	uri, err := s.archive.Put(ctx, path, s.cfg.ArchiveContentType, content.Raw)
	if err != nil {
		s.logger.Error("raw archive failed", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Debug("raw content archived", zap.String("uri", uri))
}

// storedEvent is the payload published after each persisted snapshot.
type storedEvent struct {
	RunID    string `json:"run_id"`
	Title    int    `json:"title"`
	Date     string `json:"date"`
	ByteSize int64  `json:"byte_size"`
}

func (s *Syncer) publishStored(ctx context.Context, runID string, snap regdata.Snapshot) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	event := storedEvent{
		RunID:    runID,
		Title:    snap.Title,
		Date:     snap.Date.Format(dateLayout),
		ByteSize: snap.ByteSize,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
		s.logger.Error("snapshot event publish failed",
			zap.Int("title", snap.Title), zap.Error(err))
	}
}
