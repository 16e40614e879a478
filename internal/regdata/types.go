// Package regdata defines the core data model for regulatory size tracking:
// agencies, their CFR title references, dated size snapshots, and the
// contracts the pipeline components implement against.
package regdata

import "time"

// Agency is one federal agency tracked by the system. LatestMetric and
// LatestDate are denormalized from the newest aggregate snapshot point and
// refreshed at the end of each sync pass.
type Agency struct {
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	ShortName    string     `json:"short_name,omitempty"`
	LastUpdated  time.Time  `json:"last_updated"`
	LatestMetric int64      `json:"latest_metric"`
	LatestDate   *time.Time `json:"latest_date,omitempty"`
}

// TitleReference links an agency to one CFR title chapter it regulates under.
// Multiple agencies may reference the same title.
type TitleReference struct {
	AgencySlug string `json:"agency_slug"`
	Title      int    `json:"title"`
	Chapter    string `json:"chapter,omitempty"`
}

// Snapshot is one measured (title, date) pair. Rows are append-only and
// immutable; the (Title, Date) pair is unique.
type Snapshot struct {
	Title       int       `json:"title"`
	Date        time.Time `json:"date"`
	ByteSize    int64     `json:"byte_size"`
	WordCount   int64     `json:"word_count"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// SeriesPoint is one date in an agency's aggregate size history: the sum of
// byte sizes across every title the agency references on that date.
type SeriesPoint struct {
	Date   time.Time `json:"date"`
	Metric int64     `json:"metric"`
}

// ContentKind discriminates the two upstream payload shapes.
type ContentKind int

const (
	// KindRaw is the full XML body of a title.
	KindRaw ContentKind = iota
	// KindStructure is the structural JSON summary with a reported size.
	KindStructure
)

// StructureSummary is the subset of the structural JSON payload the pipeline
// reads. The upstream reports the rendered size of the title in bytes.
type StructureSummary struct {
	ReportedSize int64 `json:"size"`
}

// Content is one fetched payload, either raw bytes or a parsed summary
// depending on Kind.
type Content struct {
	Kind      ContentKind
	Raw       []byte
	Structure StructureSummary
}

// Metrics is the fixed measurement set derived from one piece of content.
type Metrics struct {
	ByteSize    int64
	WordCount   int64
	Fingerprint string
}

// Empty reports whether the content measured to nothing. A zero byte size is
// treated as an upstream miss rather than a real empty document.
func (m Metrics) Empty() bool {
	return m.ByteSize == 0
}

// AgencyFeed is the decoded agency directory payload.
type AgencyFeed struct {
	Agencies []FeedAgency `json:"agencies"`
}

// FeedAgency mirrors one agency entry in the directory feed, including
// nested child agencies.
type FeedAgency struct {
	Slug       string       `json:"slug"`
	Name       string       `json:"name"`
	ShortName  string       `json:"short_name"`
	References []FeedCFRRef `json:"cfr_references"`
	Children   []FeedAgency `json:"children,omitempty"`
}

// FeedCFRRef is one CFR reference entry in the directory feed.
type FeedCFRRef struct {
	Title   int    `json:"title"`
	Chapter string `json:"chapter"`
}

// Flatten returns every agency in the feed, parents before children,
// recursing through arbitrarily nested Children.
func (f AgencyFeed) Flatten() []FeedAgency {
	var out []FeedAgency
	for _, a := range f.Agencies {
		out = append(out, a.flatten()...)
	}
	return out
}

func (a FeedAgency) flatten() []FeedAgency {
	out := []FeedAgency{a}
	for _, child := range a.Children {
		out = append(out, child.flatten()...)
	}
	return out
}
