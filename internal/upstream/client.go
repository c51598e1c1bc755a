// Package upstream fetches the full message set from the external messages
// API. The API pages with skip/limit query parameters and has been observed
// returning several envelope shapes, so decoding is deliberately tolerant.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/pkg/config"
	"github.com/mkumaran/message-search/pkg/metrics"
	"github.com/mkumaran/message-search/pkg/resilience"
)

// Client fetches messages from the upstream API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	maxRetries int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Client. m may be nil (no page counter updates).
func New(cfg config.UpstreamConfig, m *metrics.Metrics) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		pageSize:   pageSize,
		maxRetries: cfg.MaxRetries,
		metrics:    m,
		logger:     slog.Default().With("component", "upstream"),
	}
}

// FetchAll retrieves the full current message set, paging until the upstream
// reports no more items. When the upstream's total is discoverable it is
// fetched in a single request; otherwise pages of the configured size are
// walked. A terminal auth error (401/403) stops paging; whatever was gathered
// so far is returned, with an error only when nothing at all was fetched.
func (c *Client) FetchAll(ctx context.Context) ([]index.Record, error) {
	chunk := c.pageSize
	if total, err := c.probeTotal(ctx); err == nil && total > 0 {
		chunk = total
	}

	var all []index.Record
	skip := 0
	for {
		page, err := c.fetchPage(ctx, skip, chunk)
		if err != nil {
			if len(all) > 0 {
				c.logger.Warn("paging stopped early, returning partial set",
					"fetched", len(all), "skip", skip, "error", err)
				return all, nil
			}
			return nil, err
		}
		if len(page.records) == 0 {
			break
		}
		all = append(all, page.records...)
		if page.total > 0 && len(all) >= page.total {
			break
		}
		if len(page.records) < chunk {
			break
		}
		skip += chunk
		// Be polite to the upstream between pages.
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return all, ctx.Err()
		}
	}
	c.logger.Info("fetched message set", "count", len(all))
	return all, nil
}

// probeTotal asks for a single record to read the upstream's total count.
func (c *Client) probeTotal(ctx context.Context) (int, error) {
	page, err := c.fetchPage(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.total, nil
}

type page struct {
	records []index.Record
	total   int
}

// fetchPage retrieves one skip/limit page with transient-error retries.
// 401/403 responses are permanent: retrying an auth failure cannot help.
func (c *Client) fetchPage(ctx context.Context, skip, limit int) (page, error) {
	var result page
	err := resilience.Retry(ctx, "fetch-messages", resilience.RetryConfig{MaxAttempts: c.maxRetries}, func() error {
		p, err := c.doFetch(ctx, skip, limit)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return page{}, fmt.Errorf("fetching page skip=%d limit=%d: %w", skip, limit, err)
	}
	return result, nil
}

func (c *Client) doFetch(ctx context.Context, skip, limit int) (page, error) {
	u, err := url.Parse(c.baseURL + "/messages/")
	if err != nil {
		return page{}, fmt.Errorf("parsing upstream url: %w", err)
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return page{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("requesting %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return page{}, &resilience.Permanent{Err: fmt.Errorf("upstream returned %d at skip=%d", resp.StatusCode, skip)}
	case resp.StatusCode != http.StatusOK:
		return page{}, fmt.Errorf("upstream returned status %d at skip=%d", resp.StatusCode, skip)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return page{}, fmt.Errorf("reading response body: %w", err)
	}
	p, err := decodePage(body)
	if err != nil {
		return page{}, err
	}
	if c.metrics != nil {
		c.metrics.UpstreamPagesTotal.Inc()
	}
	return p, nil
}

// envelope covers the keyed response shapes the upstream has been seen to
// use. Exactly one of the list fields is expected to be populated.
type envelope struct {
	Items    []rawMessage `json:"items"`
	Messages []rawMessage `json:"messages"`
	Data     []rawMessage `json:"data"`
	Results  []rawMessage `json:"results"`
	Total    int          `json:"total"`
}

// decodePage accepts a bare JSON array, a keyed envelope, or an id-to-object
// map and normalises all of them to records.
func decodePage(body []byte) (page, error) {
	var bare []rawMessage
	if err := json.Unmarshal(body, &bare); err == nil {
		return page{records: toRecords(bare)}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		for _, list := range [][]rawMessage{env.Items, env.Messages, env.Data, env.Results} {
			if list != nil {
				return page{records: toRecords(list), total: env.Total}, nil
			}
		}
	}

	var byID map[string]rawMessage
	if err := json.Unmarshal(body, &byID); err == nil && len(byID) > 0 {
		msgs := make([]rawMessage, 0, len(byID))
		for id, msg := range byID {
			if msg.ID.value == "" {
				msg.ID.value = id
			}
			msgs = append(msgs, msg)
		}
		return page{records: toRecords(msgs)}, nil
	}

	return page{}, fmt.Errorf("unexpected response shape from messages endpoint")
}

// rawMessage is one upstream message with field-name tolerance.
type rawMessage struct {
	ID        flexString `json:"id"`
	AltID     flexString `json:"_id"`
	Message   string     `json:"message"`
	Text      string     `json:"text"`
	Content   string     `json:"content"`
	Name      string     `json:"name"`
	Author    string     `json:"author"`
	UserID    flexString `json:"user_id"`
	Timestamp string     `json:"timestamp"`
}

func toRecords(msgs []rawMessage) []index.Record {
	records := make([]index.Record, 0, len(msgs))
	for _, m := range msgs {
		id := m.ID.value
		if id == "" {
			id = m.AltID.value
		}
		if id == "" {
			continue
		}
		text := m.Message
		if text == "" {
			text = m.Text
		}
		if text == "" {
			text = m.Content
		}
		author := m.Name
		if author == "" {
			author = m.Author
		}
		rec := index.Record{
			ID:     id,
			Text:   text,
			Author: author,
			UserID: m.UserID.value,
		}
		if m.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
				rec.Timestamp = ts
			}
		}
		records = append(records, rec)
	}
	return records
}

// flexString decodes JSON strings and numbers alike; upstream IDs have shown
// up as both.
type flexString struct {
	value string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.value = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	f.value = n.String()
	return nil
}
