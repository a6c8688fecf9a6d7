//go:generate mockgen -source=trigger.go -destination=mocks/trigger_mock.go -package=mocks
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

// ErrNoActiveTab is returned when the host reports no focused tab URL.
var ErrNoActiveTab = errors.New("no active tab")

// Tabs is the host query for the focused tab.
type Tabs interface {
	ActiveTab(ctx context.Context) (string, error)
}

// Opener is the host capability that opens a URL in a new tab.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Trigger wraps the active tab's URL and opens the result.
type Trigger struct {
	tabs   Tabs
	opener Opener
	logger *zap.Logger
}

func New(tabs Tabs, opener Opener, logger *zap.Logger) *Trigger {
	return &Trigger{tabs: tabs, opener: opener, logger: logger}
}

// Fire runs one activation and returns the URL that was opened.
func (t *Trigger) Fire(ctx context.Context) (string, error) {
	current, err := t.tabs.ActiveTab(ctx)
	if err != nil {
		return "", fmt.Errorf("query active tab: %w", err)
	}
	if current == "" {
		return "", ErrNoActiveTab
	}

	target := redirect.Wrap(current)
	if err := t.opener.Open(ctx, target); err != nil {
		return "", fmt.Errorf("open tab: %w", err)
	}

	t.logger.Info("Opened tab",
		zap.String("tab", current),
		zap.String("target", target))
	return target, nil
}

// StaticTab reports a fixed URL as the active tab.
type StaticTab string

func (s StaticTab) ActiveTab(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// BrowserOpener opens URLs in the system browser.
type BrowserOpener struct{}

func (BrowserOpener) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return browser.OpenURL(url)
}

// WriterOpener prints URLs instead of opening them.
type WriterOpener struct {
	W io.Writer
}

func (o WriterOpener) Open(_ context.Context, url string) error {
	_, err := fmt.Fprintln(o.W, url)
	return err
}
