package status

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/common/stringutil"
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"
	"github.com/tabhub/tabhub/internal/windows"
)

// browserTool is the aggregator slot the recomputed browser line lands in.
const browserTool = "browser"

// noBrowser is the line shown while no page is connected.
const noBrowser = "no browser"

// titleRunes caps how much of a page title makes it into the status line.
const titleRunes = 40

// WindowSource is the slice of the window service the recompute needs.
type WindowSource interface {
	Focused() (windows.Window, bool)
	Count() int
}

// BrowserStatus keeps the aggregator's browser slot in sync with the window
// table by listening for window lifecycle events.
type BrowserStatus struct {
	aggregator *Aggregator
	source     WindowSource
	eventBus   bus.EventBus
	logger     *logger.Logger
	sub        bus.Subscription
}

// NewBrowserStatus wires the recompute. Call Start to begin listening.
func NewBrowserStatus(aggregator *Aggregator, source WindowSource, eventBus bus.EventBus, log *logger.Logger) *BrowserStatus {
	return &BrowserStatus{
		aggregator: aggregator,
		source:     source,
		eventBus:   eventBus,
		logger:     log.WithComponent("browser-status"),
	}
}

// Start seeds the slot and subscribes to every window event.
func (b *BrowserStatus) Start() error {
	b.Recompute()
	sub, err := b.eventBus.Subscribe(events.AllWindowEvents, func(ctx context.Context, e *bus.Event) error {
		b.Recompute()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to window events: %w", err)
	}
	b.sub = sub
	return nil
}

// Stop unsubscribes from window events.
func (b *BrowserStatus) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}

// Recompute rebuilds the browser line from the window table: the focused
// window's host and truncated title when focus exists, a tab count when
// windows are connected without focus, and the default line otherwise.
func (b *BrowserStatus) Recompute() {
	b.aggregator.Update(browserTool, b.line())
}

func (b *BrowserStatus) line() string {
	if w, ok := b.source.Focused(); ok {
		return focusedLine(w.URL, w.Title)
	}
	if n := b.source.Count(); n > 0 {
		if n == 1 {
			return "1 tab"
		}
		return fmt.Sprintf("%d tabs", n)
	}
	return noBrowser
}

func focusedLine(rawURL, title string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	title = stringutil.TruncateRunes(title, titleRunes)
	if title == "" {
		return host
	}
	return host + " — " + title
}
