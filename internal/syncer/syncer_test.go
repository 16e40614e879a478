package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regwatch/regvelocity/internal/extract"
	hashsha256 "github.com/regwatch/regvelocity/internal/hash/sha256"
	"github.com/regwatch/regvelocity/internal/policy/ratelimit"
	"github.com/regwatch/regvelocity/internal/regdata"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func testDates(t *testing.T) []time.Time {
	t.Helper()
	return []time.Time{mustDate(t, "2024-06-30"), mustDate(t, "2023-06-30")}
}

func testFeed() regdata.AgencyFeed {
	return regdata.AgencyFeed{Agencies: []regdata.FeedAgency{
		{
			Slug: "agriculture-department", Name: "Department of Agriculture", ShortName: "USDA",
			References: []regdata.FeedCFRRef{{Title: 7, Chapter: "I"}},
			Children: []regdata.FeedAgency{{
				Slug: "forest-service", Name: "Forest Service",
				References: []regdata.FeedCFRRef{{Title: 7, Chapter: "II"}},
			}},
		},
		{
			Slug: "commerce-department", Name: "Department of Commerce", ShortName: "DOC",
			References: []regdata.FeedCFRRef{{Title: 15, Chapter: "I"}},
		},
	}}
}

func newTestSyncer(store *fakeStore, content *fakeContentFetcher, feed regdata.AgencyFeed, cfg Config) *Syncer {
	s := New(
		&fakeDirectory{feed: feed},
		content,
		extract.New(hashsha256.New()),
		store,
		NewDedupCache(store),
		NewRetryPolicy(3, time.Microsecond, time.Millisecond),
		ratelimit.NopPauser{},
		&fakeClock{now: time.Unix(1700000000, 0).UTC()},
		nil,
		nil,
		cfg,
		zap.NewNop(),
	)
	s.backoff = nopPause{}
	return s
}

func TestRunStoresSnapshotsAndRefreshesLatest(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	s := newTestSyncer(store, content, testFeed(), Config{SnapshotDates: testDates(t)})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Agencies)
	assert.Equal(t, 3, sum.References)
	// Titles 7 and 15 across two dates; title 7 shared by two agencies.
	assert.Equal(t, 4, sum.SnapshotsStored)
	assert.Equal(t, 2, sum.DedupHits)
	assert.Zero(t, sum.PairsExhausted)

	require.Len(t, store.snaps, 4)
	usda, err := store.GetAgency(context.Background(), "agriculture-department")
	require.NoError(t, err)
	assert.Positive(t, usda.LatestMetric)
	require.NotNil(t, usda.LatestDate)
	assert.Equal(t, mustDate(t, "2024-06-30"), *usda.LatestDate)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()

	first := newTestSyncer(store, content, testFeed(), Config{SnapshotDates: testDates(t)})
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	agencies, refs, snaps := store.counts()
	fetchesAfterFirst := content.calls()

	// Fresh syncer and dedup cache, same store: simulates the next scheduled run.
	second := newTestSyncer(store, content, testFeed(), Config{SnapshotDates: testDates(t)})
	_, err = second.Run(context.Background())
	require.NoError(t, err)

	a2, r2, s2 := store.counts()
	assert.Equal(t, agencies, a2)
	assert.Equal(t, refs, r2)
	assert.Equal(t, snaps, s2)
	assert.Equal(t, fetchesAfterFirst, content.calls(), "resolved pairs must not be re-fetched")
}

func TestRunSharedTitleFetchedOncePerRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	s := newTestSyncer(store, content, testFeed(), Config{SnapshotDates: testDates(t)})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// Title 7 referenced by two agencies but each (title, date) fetched once.
	assert.Equal(t, 1, content.callsFor(7, "2024-06-30"))
	assert.Equal(t, 1, content.callsFor(7, "2023-06-30"))
}

func TestRunRetryExhaustionSkipsPairWithoutMarking(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	content.failAll = errors.New("upstream down")

	feed := regdata.AgencyFeed{Agencies: []regdata.FeedAgency{{
		Slug: "solo", Name: "Solo Agency",
		References: []regdata.FeedCFRRef{{Title: 3, Chapter: "I"}},
	}}}
	dates := []time.Time{mustDate(t, "2024-06-30")}
	s := newTestSyncer(store, content, feed, Config{SnapshotDates: dates})

	sum, err := s.Run(context.Background())
	require.NoError(t, err, "per-pair failures must not abort the run")

	assert.Equal(t, 3, content.calls(), "fetcher attempted exactly the retry ceiling")
	assert.Equal(t, 1, sum.PairsExhausted)
	assert.Empty(t, store.snaps)

	// The pair was not marked: a later run retries it.
	content.failAll = nil
	again := newTestSyncer(store, content, feed, Config{SnapshotDates: dates})
	sum, err = again.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SnapshotsStored)
}

func TestRunCancellationNotCountedAsExhaustion(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()

	feed := regdata.AgencyFeed{Agencies: []regdata.FeedAgency{{
		Slug: "solo", Name: "Solo Agency",
		References: []regdata.FeedCFRRef{{Title: 3, Chapter: "I"}},
	}}}
	s := newTestSyncer(store, content, feed, Config{SnapshotDates: testDates(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.PairsExhausted, "cancellation is not pair exhaustion")
	assert.Empty(t, store.snaps)
}

func TestRunZeroSizeContentSkippedNotPersisted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	content.zeroSize = true

	feed := regdata.AgencyFeed{Agencies: []regdata.FeedAgency{{
		Slug: "solo", Name: "Solo Agency",
		References: []regdata.FeedCFRRef{{Title: 3, Chapter: "I"}},
	}}}
	s := newTestSyncer(store, content, feed, Config{SnapshotDates: []time.Time{mustDate(t, "2024-06-30")}})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.ZeroSizeSkipped)
	assert.Zero(t, sum.SnapshotsStored)
	assert.Empty(t, store.snaps)
}

func TestRunDirectoryFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	s := New(
		&fakeDirectory{err: errors.New("feed unreachable")},
		newFakeContentFetcher(),
		extract.New(hashsha256.New()),
		store,
		NewDedupCache(store),
		NewRetryPolicy(3, time.Microsecond, time.Millisecond),
		ratelimit.NopPauser{},
		&fakeClock{now: time.Unix(1700000000, 0).UTC()},
		nil, nil,
		Config{SnapshotDates: testDates(t)},
		zap.NewNop(),
	)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agency directory")
}

func TestRunEmptyDirectoryIsFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	s := newTestSyncer(store, newFakeContentFetcher(), regdata.AgencyFeed{}, Config{SnapshotDates: testDates(t)})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to synchronize")
}

func TestRunAgencyLimit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	s := newTestSyncer(store, newFakeContentFetcher(), testFeed(), Config{
		SnapshotDates: testDates(t),
		AgencyLimit:   1,
	})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Agencies)
}

func TestRunFailingTitleDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	content.failTitles = map[int]error{7: errors.New("boom")}

	s := newTestSyncer(store, content, testFeed(), Config{SnapshotDates: testDates(t)})
	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	// Title 15 still synced for both dates. Title 7 is exhausted once per
	// referencing agency and date since failed pairs are never marked.
	assert.Equal(t, 2, sum.SnapshotsStored)
	assert.Equal(t, 4, sum.PairsExhausted)
}

func TestRunPublishesStoredEvents(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	content := newFakeContentFetcher()
	pub := &fakePublisher{}

	s := newTestSyncer(store, content, testFeed(), Config{
		SnapshotDates: testDates(t),
		Topic:         "snapshots",
	})
	s.publisher = pub

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.messages, sum.SnapshotsStored)
}

// --- fakes ---

type nopPause struct{}

func (nopPause) Pause(context.Context, time.Duration) {}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeDirectory struct {
	feed regdata.AgencyFeed
	err  error
}

func (d *fakeDirectory) FetchDirectory(context.Context) (regdata.AgencyFeed, error) {
	return d.feed, d.err
}

type fakeContentFetcher struct {
	mu         sync.Mutex
	perPair    map[string]int
	total      int
	failAll    error
	failTitles map[int]error
	zeroSize   bool
}

func newFakeContentFetcher() *fakeContentFetcher {
	return &fakeContentFetcher{perPair: make(map[string]int)}
}

func (f *fakeContentFetcher) FetchContent(_ context.Context, title int, date time.Time) (regdata.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	f.perPair[fmt.Sprintf("%d@%s", title, date.Format("2006-01-02"))]++
	if f.failAll != nil {
		return regdata.Content{}, f.failAll
	}
	if err, ok := f.failTitles[title]; ok {
		return regdata.Content{}, err
	}
	if f.zeroSize {
		return regdata.Content{Kind: regdata.KindStructure}, nil
	}
	size := int64(1000*title) + int64(date.Year())
	return regdata.Content{
		Kind:      regdata.KindStructure,
		Structure: regdata.StructureSummary{ReportedSize: size},
	}, nil
}

func (f *fakeContentFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeContentFetcher) callsFor(title int, date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perPair[fmt.Sprintf("%d@%s", title, date)]
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, payload)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

type fakeStore struct {
	mu       sync.Mutex
	agencies map[string]regdata.Agency
	refs     map[string]regdata.TitleReference
	snaps    map[string]regdata.Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agencies: make(map[string]regdata.Agency),
		refs:     make(map[string]regdata.TitleReference),
		snaps:    make(map[string]regdata.Snapshot),
	}
}

func snapKey(title int, date time.Time) string {
	return fmt.Sprintf("%d@%s", title, date.Format("2006-01-02"))
}

func (s *fakeStore) UpsertAgency(_ context.Context, agency regdata.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agencies[agency.Slug]; ok {
		existing.Name = agency.Name
		existing.ShortName = agency.ShortName
		existing.LastUpdated = agency.LastUpdated
		s.agencies[agency.Slug] = existing
		return nil
	}
	s.agencies[agency.Slug] = agency
	return nil
}

func (s *fakeStore) EnsureReference(_ context.Context, ref regdata.TitleReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%d", ref.AgencySlug, ref.Title)
	if _, ok := s.refs[key]; !ok {
		s.refs[key] = ref
	}
	return nil
}

func (s *fakeStore) InsertSnapshot(_ context.Context, snap regdata.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapKey(snap.Title, snap.Date)
	if _, ok := s.snaps[key]; !ok {
		s.snaps[key] = snap
	}
	return nil
}

func (s *fakeStore) UpdateAgencyLatest(_ context.Context, slug string, metric int64, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[slug]
	if !ok {
		return fmt.Errorf("agency %s not found", slug)
	}
	a.LatestMetric = metric
	a.LatestDate = &date
	s.agencies[slug] = a
	return nil
}

func (s *fakeStore) SnapshotExists(_ context.Context, title int, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snaps[snapKey(title, date)]
	return ok, nil
}

func (s *fakeStore) ListAgencies(context.Context) ([]regdata.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]regdata.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *fakeStore) GetAgency(_ context.Context, slug string) (regdata.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[slug]
	if !ok {
		return regdata.Agency{}, fmt.Errorf("agency %s not found", slug)
	}
	return a, nil
}

func (s *fakeStore) AgencyHistory(_ context.Context, slug string) ([]regdata.SeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate := make(map[time.Time]int64)
	for _, ref := range s.refs {
		if ref.AgencySlug != slug {
			continue
		}
		for _, snap := range s.snaps {
			if snap.Title == ref.Title {
				byDate[snap.Date] += snap.ByteSize
			}
		}
	}
	out := make([]regdata.SeriesPoint, 0, len(byDate))
	for d, m := range byDate {
		out = append(out, regdata.SeriesPoint{Date: d, Metric: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *fakeStore) counts() (agencies, refs, snaps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agencies), len(s.refs), len(s.snaps)
}
