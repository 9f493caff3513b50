// Package render loads pages in headless Chromium so that event markup
// injected by client-side scripts is present before extraction.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 2000
	DefaultTimeout = 45 * time.Second
	// settle gives late scripts a moment after the body is ready.
	settle = 750 * time.Millisecond
)

// Options defines how a page is rendered.
type Options struct {
	// Width and Height are the viewport dimensions in pixels.
	Width  int
	Height int

	// Timeout bounds the whole render. Zero means DefaultTimeout.
	Timeout time.Duration

	// WaitSelector, when set, must become visible before the DOM is read.
	// Otherwise the renderer waits for <body> to be ready.
	WaitSelector string

	// UserAgent overrides the browser's default.
	UserAgent string
}

// Chromium renders pages with chromedp. The zero value is usable.
type Chromium struct {
	Options Options
}

// New returns a Chromium renderer with defaults filled in.
func New(opts Options) *Chromium {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Chromium{Options: opts}
}

// Render navigates to url and returns the serialized DOM of the page.
func (c *Chromium) Render(parentCtx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("render: URL is required")
	}
	opts := c.Options
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	wait := chromedp.WaitReady("body", chromedp.ByQuery)
	if opts.WaitSelector != "" {
		wait = chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery)
	}

	var html string
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(url),
		wait,
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("render: chromedp run failed: %w", err)
	}
	return []byte(html), nil
}
