package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// Probe is the reachability of one source.
type Probe struct {
	ID      string        `json:"id"`
	URL     string        `json:"url"`
	Status  int           `json:"status"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Check sends a HEAD request to every source, falling back to GET for
// servers that refuse HEAD. It never retries and never writes artifacts.
func (f *Fetcher) Check(ctx context.Context, sources []model.Source) []Probe {
	probes := make([]Probe, len(sources))

	workers := f.cfg.Workers
	if workers < 4 {
		workers = 4
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			probes[i] = f.probe(ctx, src)
			return nil
		})
	}
	g.Wait()
	return probes
}

func (f *Fetcher) probe(ctx context.Context, src model.Source) Probe {
	p := Probe{ID: src.ID, URL: src.URL}
	start := time.Now()

	status, err := f.request(ctx, http.MethodHead, src)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = f.request(ctx, http.MethodGet, src)
	}
	p.Status = status
	if err != nil {
		p.Error = err.Error()
	} else {
		p.OK = status >= 200 && status <= 299
		if !p.OK {
			p.Error = http.StatusText(status)
		}
	}
	p.Elapsed = time.Since(start)
	appLog.Debug("source probed", "id", src.ID, "status", status, "ok", p.OK)
	return p
}

func (f *Fetcher) request(ctx context.Context, method string, src model.Source) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, src.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", Accept(src.Type))
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
