// Package browser implements the browser gateway on chromedp and
// headless Chrome.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/talemon/pagewatch/internal/watch"
)

// Config controls the browser engine.
type Config struct {
	// UserAgent overrides the browser default when non-empty.
	UserAgent string `mapstructure:"user_agent"`
	// MaxSessions caps simultaneously open tabs; 0 means unlimited.
	MaxSessions int `mapstructure:"max_sessions"`
}

// Engine owns the Chrome exec allocator and hands out one tab per
// capture.
type Engine struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewEngine creates the shared allocator. Tabs are created lazily per
// session; Chrome itself starts on first use.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxSessions > 0 {
		limiter = make(chan struct{}, cfg.MaxSessions)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting down the browser.
func (e *Engine) Close() {
	e.allocCancel()
}

// NewSession acquires a tab. The session must be closed on every exit
// path or the tab (and its limiter slot) leaks.
func (e *Engine) NewSession(ctx context.Context) (watch.BrowserSession, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(e.allocator)

	s := &session{
		engine: e,
		ctx:    tabCtx,
		cancel: tabCancel,
		meta:   &responseMeta{},
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)
	return s, nil
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser session wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

// session is one acquired tab.
type session struct {
	engine    *Engine
	ctx       context.Context
	cancel    context.CancelFunc
	meta      *responseMeta
	closeOnce sync.Once
}

// Navigate loads the URL and returns the document response status. A
// navigation that produces no document response reports status 0.
func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, release := linkContext(s.ctx, ctx)
	defer release()
	navCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return 0, fmt.Errorf("chromedp navigate: %w", err)
	}
	return s.meta.status(), nil
}

// DOM returns the rendered document serialized as markup.
func (s *session) DOM(ctx context.Context) (string, error) {
	runCtx, release := linkContext(s.ctx, ctx)
	defer release()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

// Archive captures a single-file MHTML archive of the page via CDP.
func (s *session) Archive(ctx context.Context) ([]byte, error) {
	runCtx, release := linkContext(s.ctx, ctx)
	defer release()
	var data []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		snapshot, err := page.CaptureSnapshot().
			WithFormat(page.CaptureSnapshotFormatMhtml).
			Do(ctx)
		if err != nil {
			return err
		}
		data = []byte(snapshot)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("chromedp capture snapshot: %w", err)
	}
	return data, nil
}

// Screenshot captures a full-page PNG.
func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, release := linkContext(s.ctx, ctx)
	defer release()
	var data []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&data, 100)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot: %w", err)
	}
	return data, nil
}

// Close releases the tab and its limiter slot. Safe to call more than
// once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.engine.release()
	})
}

// linkContext derives a cancelable child of base that is additionally
// canceled when caller finishes. CDP actions must run on a descendant
// of the tab context (target identity rides on its values), so the
// caller's context cannot be the parent directly.
func linkContext(base, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.engine.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.engine.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the main document response status as network
// events arrive. Redirect chains overwrite earlier entries; the final
// document response wins.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
