package worker

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// rodSession drives one headless Chromium instance through the DevTools
// protocol. Each session owns its own browser process so a crashed or leaky
// page never takes a neighbor down.
type rodSession struct {
	browser *rod.Browser
	page    *rod.Page
	cleanup func()
}

// NewRodSession launches a headless browser and connects to it.
func NewRodSession(ctx context.Context) (Session, error) {
	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &rodSession{browser: browser, page: page, cleanup: l.Cleanup}, nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) (string, error) {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("failed to wait for load: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.Title, nil
}

func (s *rodSession) Extract(ctx context.Context, url, selector string) (string, error) {
	if _, err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("element not found: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read element text: %w", err)
	}
	return text, nil
}

func (s *rodSession) Screenshot(ctx context.Context, url string) ([]byte, error) {
	if _, err := s.Navigate(ctx, url); err != nil {
		return nil, err
	}
	png, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return png, nil
}

func (s *rodSession) Submit(ctx context.Context, url string, fields map[string]string) error {
	if _, err := s.Navigate(ctx, url); err != nil {
		return err
	}
	page := s.page.Context(ctx)
	for name, value := range fields {
		el, err := page.Element(fmt.Sprintf(`[name=%q]`, name))
		if err != nil {
			return fmt.Errorf("form field %q not found: %w", name, err)
		}
		if err := el.Input(value); err != nil {
			return fmt.Errorf("failed to fill field %q: %w", name, err)
		}
	}
	submit, err := page.Element(`[type="submit"]`)
	if err != nil {
		return fmt.Errorf("submit control not found: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to submit form: %w", err)
	}
	return page.WaitLoad()
}

// Probe uses the browser version call as the liveness check: it answers only
// while the DevTools connection is healthy.
func (s *rodSession) Probe(_ context.Context) error {
	_, err := s.browser.Version()
	return err
}

// Reset clears cookies and parks every extra tab so the next task starts
// from a clean slate.
func (s *rodSession) Reset(ctx context.Context) error {
	pages, err := s.browser.Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, p := range pages {
		if p.TargetID != s.page.TargetID {
			_ = p.Close()
		}
	}
	page := s.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return page.Navigate("about:blank")
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	if s.cleanup != nil {
		s.cleanup()
	}
	return err
}
