// Package fetch downloads every enabled source once per run and records
// either its raw payload or a structured error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"cfpradar/internal/config"
	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
	"cfpradar/internal/store"
)

const maxBackoff = 30 * time.Second

// maxBody caps a response body; larger payloads fail the source.
var maxBody int64 = 32 << 20

// ErrBodyTooLarge is returned when a response exceeds the body cap.
var ErrBodyTooLarge = errors.New("response body too large")

var acceptByType = map[model.SourceType]string{
	model.SourceICS:    "text/calendar, text/plain;q=0.9, */*;q=0.8",
	model.SourceMeetup: "text/calendar, text/plain;q=0.9, */*;q=0.8",
	model.SourceRSS:    "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8",
	model.SourceAtom:   "application/atom+xml, application/rss+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8",
	model.SourceJSON:   "application/json, */*;q=0.8",
	model.SourceHTML:   "text/html, application/xhtml+xml;q=0.9, */*;q=0.8",
}

// Accept returns the Accept header sent for a source type.
func Accept(t model.SourceType) string {
	if a, ok := acceptByType[t]; ok {
		return a
	}
	return "*/*"
}

// Renderer produces the DOM of a page after client-side scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

type Option func(*Fetcher)

// WithRenderer enables headless rendering of HTML sources flagged render.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithClock overrides time.Now for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Fetcher issues one request per source with retry and an optional
// conditional-request cache.
type Fetcher struct {
	cfg      config.FetchConfig
	client   *http.Client
	rawDir   string
	cache    *diskCache
	renderer Renderer
	now      func() time.Time
}

// New builds a Fetcher. rawDir receives per-source payload and error
// files; empty disables them.
func New(cfg config.FetchConfig, rawDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		client: NewHTTPClient(cfg.Timeout),
		rawDir: rawDir,
		now:    time.Now,
	}
	if cfg.CacheDir != "" {
		f.cache = &diskCache{dir: cfg.CacheDir}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Result is the outcome for one source. Exactly one of Raw and Error is set.
type Result struct {
	Source    model.Source
	Raw       *model.RawEvent
	Error     *model.FetchError
	Status    int
	Attempts  int
	FromCache bool
	Rendered  bool
	Elapsed   time.Duration
}

func (r Result) OK() bool { return r.Raw != nil }

// Raws returns the payloads of successful results in order.
func Raws(results []Result) []model.RawEvent {
	out := make([]model.RawEvent, 0, len(results))
	for _, r := range results {
		if r.Raw != nil {
			out = append(out, *r.Raw)
		}
	}
	return out
}

// FetchAll fetches sources with at most cfg.Workers in flight. Results are
// in input order regardless of completion order. A failing source never
// stops the others; the error is only for artifacts that could not be
// written.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.Source) ([]Result, error) {
	results := make([]Result, len(sources))

	workers := f.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			res, err := f.FetchOne(gctx, src)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchOne fetches a single source and writes its raw or error artifact.
func (f *Fetcher) FetchOne(ctx context.Context, src model.Source) (Result, error) {
	start := time.Now()
	res := Result{Source: src}

	var body []byte
	err := Retry(ctx, f.cfg.Retries+1, f.cfg.RetryBackoff, maxBackoff, func() error {
		res.Attempts++
		b, status, cached, rendered, err := f.attempt(ctx, src)
		res.Status = status
		if err != nil {
			appLog.Warn("fetch attempt failed", "id", src.ID, "url", redactURL(src.URL), "attempt", res.Attempts, "reason", err.Error())
			if !retryable(err) {
				return Permanent(err)
			}
			return err
		}
		body, res.FromCache, res.Rendered = b, cached, rendered
		return nil
	})
	res.Elapsed = time.Since(start)
	fetchedAt := f.now().UTC()

	if err != nil {
		res.Error = &model.FetchError{
			SourceID:  src.ID,
			URL:       src.URL,
			Error:     err.Error(),
			Attempts:  res.Attempts,
			Timestamp: fetchedAt,
		}
		appLog.Error("fetch failed", err, "id", src.ID, "url", redactURL(src.URL), "attempts", res.Attempts)
		if f.rawDir != "" {
			name := fmt.Sprintf("%s.%s.error.json", src.ID, stamp(fetchedAt))
			if werr := store.WriteJSON(filepath.Join(f.rawDir, name), res.Error); werr != nil {
				return res, fmt.Errorf("write error artifact for %s: %w", src.ID, werr)
			}
		}
		return res, nil
	}

	raw := model.NewRawEvent(src, body, fetchedAt)
	res.Raw = &raw
	if f.rawDir != "" {
		name := fmt.Sprintf("%s.%s.%s", src.ID, stamp(fetchedAt), src.Type.Ext())
		if werr := store.WriteFile(filepath.Join(f.rawDir, name), body, 0o644); werr != nil {
			return res, fmt.Errorf("write raw artifact for %s: %w", src.ID, werr)
		}
	}
	appLog.Info("fetch success", "id", src.ID, "type", src.Type, "bytes", len(body), "status", res.Status,
		"from_cache", res.FromCache, "rendered", res.Rendered, "elapsed", res.Elapsed.Round(time.Millisecond).String())
	return res, nil
}

// attempt performs one try. It returns the body, the HTTP status (0 when
// none was received) and whether the body came from cache or a render.
func (f *Fetcher) attempt(ctx context.Context, src model.Source) ([]byte, int, bool, bool, error) {
	if src.URL == "" {
		return nil, 0, false, false, Permanent(errors.New("source URL is empty"))
	}

	if src.Render && src.Type == model.SourceHTML && f.renderer != nil {
		rctx := ctx
		if f.cfg.RenderTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, f.cfg.RenderTimeout)
			defer cancel()
		}
		body, err := f.renderer.Render(rctx, src.URL)
		if err != nil {
			return nil, 0, false, true, err
		}
		return body, http.StatusOK, false, true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, 0, false, false, Permanent(err)
	}
	req.Header.Set("Accept", Accept(src.Type))
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	var (
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cache != nil {
		meta, cachedBody = f.cache.load(src.URL)
		if len(cachedBody) > 0 {
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, false, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
		io.Copy(io.Discard, resp.Body)
		return cachedBody, resp.StatusCode, true, false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, false, false, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, false, false, err
	}
	if int64(len(body)) > maxBody {
		return nil, resp.StatusCode, false, false, Permanent(fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxBody))
	}

	if f.cache != nil {
		et, lm := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
		if et != "" || lm != "" {
			entry := cacheEntry{URL: src.URL, ETag: et, LastModified: lm, UpdatedAt: f.now().UTC()}
			if err := f.cache.save(entry, body); err != nil {
				appLog.Error("fetch cache save failed", err, "id", src.ID)
			}
		}
	}
	return body, resp.StatusCode, false, false, nil
}

// retryable reports whether err may go away on a second attempt: network
// failures, timeouts and transient statuses.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// stamp formats t for artifact file names without colons or dots.
func stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03dZ", t.Format("2006-01-02T15-04-05"), t.Nanosecond()/int(time.Millisecond))
}

// redactURL drops query strings and fragments, which may carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(unparseable url)"
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.Fragment = ""
	u.User = nil
	return u.String()
}
