// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Headers           http.Header
}

// Fetcher implements scraper.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocCancel context.CancelFunc

	// browser is the one browser every fetch opens its tab in.
	browser       context.Context
	browserCancel context.CancelFunc
	startBrowser  func(ctx context.Context) error
	startOnce     sync.Once
	startErr      error
}

// NewChromedp creates a headless fetcher backed by chromedp. A single browser
// is launched on the first fetch and shared by later ones, one tab each.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
		startBrowser: func(ctx context.Context) error {
			// Running no actions launches the browser and attaches its first tab.
			return chromedp.Run(ctx)
		},
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// ensureBrowser launches the shared browser once. Tabs created before the
// browser exists would each spawn their own.
func (f *Fetcher) ensureBrowser() error {
	f.startOnce.Do(func() {
		if err := f.startBrowser(f.browser); err != nil {
			f.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return f.startErr
}

// Fetch navigates with a headless browser and returns the rendered DOM. A
// document response outside 2xx is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	if err := f.ensureBrowser(); err != nil {
		return nil, err
	}
	taskCtx, taskCancel := chromedp.NewContext(f.browser)
	defer taskCancel()
	// The tab lives under the browser, so tie it to the caller explicitly.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout(ctx))
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, err := f.runHeadless(taskCtx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return nil, err
	}
	if status := meta.statusOrOK(); status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	return []byte(html), nil
}

func (f *Fetcher) runHeadless(ctx context.Context, url string) (string, error) {
	var html string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// navTimeout is the configured navigation timeout, shortened to the caller's
// deadline when that comes first.
func (f *Fetcher) navTimeout(ctx context.Context) time.Duration {
	timeout := f.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	return timeout
}

// responseMeta remembers the status of the main document response.
type responseMeta struct {
	mu     sync.Mutex
	status int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	// Redirect hops report first; keep the last document status.
	m.status = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) statusOrOK() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
