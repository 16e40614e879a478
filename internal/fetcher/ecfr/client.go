// Package ecfr implements the upstream eCFR API client: versioned title
// content plus the agency directory feed.
package ecfr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regvelocity/internal/regdata"
)

const dateLayout = "2006-01-02"

// Config controls client behavior.
type Config struct {
	BaseURL   string
	Mode      string // "structure" or "full"
	UserAgent string
	Timeout   time.Duration
}

// Client implements regdata.ContentFetcher and regdata.DirectoryFetcher over
// the public eCFR REST API. It issues exactly one outbound request per call;
// retries and pacing are the caller's concern.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.ecfr.gov"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchContent retrieves one title at one date. In structure mode the
// response is the structural-metadata JSON with a reported size; in full mode
// it is the raw versioned XML body.
func (c *Client) FetchContent(ctx context.Context, title int, date time.Time) (regdata.Content, error) {
	if c.cfg.Mode == "full" {
		return c.fetchFull(ctx, title, date)
	}
	return c.fetchStructure(ctx, title, date)
}

func (c *Client) fetchFull(ctx context.Context, title int, date time.Time) (regdata.Content, error) {
	url := fmt.Sprintf("%s/api/versioner/v1/full/%s/title-%d.xml",
		c.cfg.BaseURL, date.Format(dateLayout), title)
	body, err := c.get(ctx, url)
	if err != nil {
		return regdata.Content{}, err
	}
	return regdata.Content{Kind: regdata.KindRaw, Raw: body}, nil
}

func (c *Client) fetchStructure(ctx context.Context, title int, date time.Time) (regdata.Content, error) {
	url := fmt.Sprintf("%s/api/versioner/v1/structure/%s/title-%d.json",
		c.cfg.BaseURL, date.Format(dateLayout), title)
	body, err := c.get(ctx, url)
	if err != nil {
		return regdata.Content{}, err
	}
	var summary regdata.StructureSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return regdata.Content{}, fmt.Errorf("parse structure payload for title %d: %w", title, err)
	}
	return regdata.Content{Kind: regdata.KindStructure, Structure: summary}, nil
}

// FetchDirectory retrieves the agency directory feed from the admin API.
func (c *Client) FetchDirectory(ctx context.Context) (regdata.AgencyFeed, error) {
	url := c.cfg.BaseURL + "/api/admin/v1/agencies.json"
	body, err := c.get(ctx, url)
	if err != nil {
		return regdata.AgencyFeed{}, err
	}
	var feed regdata.AgencyFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return regdata.AgencyFeed{}, fmt.Errorf("parse agency directory: %w", err)
	}
	return feed, nil
}

// get executes a single GET and returns the body. Non-2xx statuses and empty
// bodies are errors so the retry policy can see them.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	c.logger.Debug("upstream request",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("get %s: empty body", url)
	}
	return body, nil
}
