// Package vision is the HTTP client for the plate recognition service.  The
// recognizer runs out of process (camera capture and OCR are not this
// program's job) and exposes a single polling endpoint per station.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 2 * time.Second

// observation is the recognizer's wire shape.
type observation struct {
	RawText string `json:"raw_text"`
}

// Client polls GET {base}/v1/observation?station={name}.  A 204 means no
// plate is in frame.  It satisfies station.Recognizer.
type Client struct {
	base    string
	station string
	http    *http.Client
}

func NewClient(baseURL, station string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		station: station,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Observe(ctx context.Context) (string, bool, error) {
	u := c.base + "/v1/observation?station=" + url.QueryEscape(c.station)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("vision: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("vision: poll: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return "", false, nil
	case http.StatusOK:
	default:
		return "", false, fmt.Errorf("vision: unexpected status %d", resp.StatusCode)
	}

	var obs observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return "", false, fmt.Errorf("vision: decode: %w", err)
	}

	raw := normalize(obs.RawText)
	if raw == "" {
		return "", false, nil
	}
	return raw, true, nil
}

// normalize uppercases and strips everything but letters and digits, the same
// cleanup an OCR pipeline applies before matching.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			b.WriteByte(ch - 'a' + 'A')
		case (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9'):
			b.WriteByte(ch)
		}
	}
	return b.String()
}
