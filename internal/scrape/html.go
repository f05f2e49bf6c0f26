package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"campusevents/internal/config"
	"campusevents/internal/ingest"
	appLog "campusevents/internal/log"
)

// Default browser parameters for listing pages.
const (
	DefaultWidth   = 1366
	DefaultHeight  = 900
	DefaultTimeout = 30 * time.Second
)

// HTMLSource renders a listing page in headless Chromium and extracts one
// RawEvent per element matching Selectors.Item.
type HTMLSource struct {
	Config    ingest.SourceConfig
	Selectors config.Selectors
	UserAgent string

	Width   int
	Height  int
	Timeout time.Duration
}

func (h *HTMLSource) Info() ingest.SourceConfig { return h.Config }

// extractScript runs in the page. %s is the JSON-encoded selector set. Dates
// prefer a datetime attribute; links and images are resolved to absolute
// URLs by the browser.
const extractScript = `(() => {
  const sel = %s;
  const pick = (root, s) => (s ? root.querySelector(s) : null);
  const text = (root, s) => { const el = pick(root, s); return el ? el.textContent.trim() : ""; };
  const prop = (root, s, p) => { const el = pick(root, s); return el ? (el[p] || el.getAttribute(p) || "") : ""; };
  return Array.from(document.querySelectorAll(sel.item)).map((el) => {
    const d = pick(el, sel.date);
    return {
      name: text(el, sel.title),
      description: text(el, sel.description),
      date: d ? (d.getAttribute("datetime") || d.textContent.trim()) : "",
      time: text(el, sel.time),
      location: text(el, sel.location),
      registrationLink: prop(el, sel.link, "href"),
      imageUrl: prop(el, sel.image, "src"),
    };
  });
})()`

func (h *HTMLSource) script() (string, error) {
	sel, err := json.Marshal(h.Selectors)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(extractScript, sel), nil
}

// Fetch navigates to the source URL, waits for the first item and evaluates
// the extraction script.
func (h *HTMLSource) Fetch(parent context.Context) ([]ingest.RawEvent, error) {
	if h.Config.URL == "" {
		return nil, fmt.Errorf("scrape: %s: url is required", h.Config.ID)
	}
	width, height, timeout := h.Width, h.Height, h.Timeout
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	script, err := h.script()
	if err != nil {
		return nil, err
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.WindowSize(width, height))
	if h.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(h.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	defer cancelAlloc()
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	var raws []ingest.RawEvent
	err = chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(h.Config.URL),
		chromedp.WaitReady(h.Selectors.Item, chromedp.ByQuery),
		chromedp.Evaluate(script, &raws),
	)
	if err != nil {
		return nil, fmt.Errorf("scrape: %s: chromedp: %w", h.Config.ID, err)
	}
	appLog.Debug("html source extracted", "source", h.Config.ID, "items", len(raws))
	return raws, nil
}
