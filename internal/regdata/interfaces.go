package regdata

import (
	"context"
	"time"
)

// ContentFetcher retrieves the content of one title at one snapshot date.
type ContentFetcher interface {
	FetchContent(ctx context.Context, title int, date time.Time) (Content, error)
}

// DirectoryFetcher retrieves the full agency directory.
type DirectoryFetcher interface {
	FetchDirectory(ctx context.Context) (AgencyFeed, error)
}

// Store is the persistence contract for agencies, references, snapshots and
// derived series.
type Store interface {
	UpsertAgency(ctx context.Context, agency Agency) error
	EnsureReference(ctx context.Context, ref TitleReference) error
	InsertSnapshot(ctx context.Context, snap Snapshot) error
	UpdateAgencyLatest(ctx context.Context, slug string, metric int64, date time.Time) error
	SnapshotExists(ctx context.Context, title int, date time.Time) (bool, error)
	ListAgencies(ctx context.Context) ([]Agency, error)
	GetAgency(ctx context.Context, slug string) (Agency, error)
	AgencyHistory(ctx context.Context, slug string) ([]SeriesPoint, error)
}

// BlobStore archives raw fetched content and returns a URI for the stored
// object.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher emits an event to the named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fingerprinter produces a short stable digest of content.
type Fingerprinter interface {
	Fingerprint(data []byte) string
}

// Clock supplies the current time. Injected so tests control it.
type Clock interface {
	Now() time.Time
}
