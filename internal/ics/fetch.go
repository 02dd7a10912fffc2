// Package ics imports schedule definitions from ICS feeds. Feeds are
// fetched with HTTP conditional requests and a disk cache; VEVENTs whose
// recurrence maps onto the daily/weekly/monthly model are turned into
// schedules, everything else is skipped.
package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "schedcal/internal/log"
)

// Feed is a single ICS subscription.
type Feed struct {
	// ID tags imported schedules in the store; it doubles as the
	// replace-key on refresh.
	ID   string
	Name string
	URL  string
}

// feedMeta is the cached HTTP validation state for one feed URL.
type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS bodies with ETag/Last-Modified revalidation and
// falls back to the last cached body when the network is unavailable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Fetch returns the ICS body for the feed. fromCache is true when the body
// came from disk (304 response or network failure with a usable cache).
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (body []byte, fromCache bool, err error) {
	if feed.URL == "" {
		return nil, false, errors.New("feed URL is empty")
	}
	if err := os.MkdirAll(f.cacheDir, 0o700); err != nil {
		return nil, false, err
	}

	key := cacheKey(feed.URL)
	meta := f.readMeta(key)
	cached, _ := os.ReadFile(f.bodyPath(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("ics fetch failed, using cached body", "feed", feed.ID, "url", redactURL(feed.URL), "err", err)
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		f.writeCache(key, feedMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}, body)
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified but no cached body")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("ics fetch non-OK, using cached body", "feed", feed.ID, "url", redactURL(feed.URL), "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, errors.New("ics fetch: " + resp.Status)
	}
}

func cacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:8])
}

func (f *Fetcher) bodyPath(key string) string {
	return filepath.Join(f.cacheDir, key+".ics")
}

func (f *Fetcher) metaPath(key string) string {
	return filepath.Join(f.cacheDir, key+".json")
}

func (f *Fetcher) readMeta(key string) feedMeta {
	var meta feedMeta
	data, err := os.ReadFile(f.metaPath(key))
	if err != nil {
		return feedMeta{}
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return feedMeta{}
	}
	return meta
}

// writeCache is best effort: a failed cache write must not fail the fetch.
func (f *Fetcher) writeCache(key string, meta feedMeta, body []byte) {
	if err := os.WriteFile(f.bodyPath(key), body, 0o600); err != nil {
		appLog.Error("ics cache body write failed", err, "key", key)
		return
	}
	data, err := json.Marshal(&meta)
	if err == nil {
		err = os.WriteFile(f.metaPath(key), data, 0o600)
	}
	if err != nil {
		appLog.Error("ics cache meta write failed", err, "key", key)
	}
}

// redactURL keeps only the scheme and host of a feed URL for logging;
// paths and query strings often carry private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
