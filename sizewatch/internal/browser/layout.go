// CLAUDE:SUMMARY Forwards window resize and scroll events from the page through a CDP binding.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"
)

const bindingName = "__sizewatch_binding"

// layoutJS forwards window resize and scroll to the binding. It installs
// itself once per document.
const layoutJS = `() => {
	if (window.__sizewatch_layout) return;
	window.__sizewatch_layout = true;
	const fire = (type) => {
		try { window.` + bindingName + `(type); } catch (e) {}
	};
	window.addEventListener("resize", () => fire("resize"), { passive: true });
	window.addEventListener("scroll", () => fire("scroll"), { passive: true });
}`

// LayoutEvent is a window event that may have moved or resized targets.
type LayoutEvent string

const (
	EventResize LayoutEvent = "resize"
	EventScroll LayoutEvent = "scroll"
)

// parseLayoutEvent maps a binding payload to an event. Unknown payloads are
// rejected.
func parseLayoutEvent(payload string) (LayoutEvent, bool) {
	switch LayoutEvent(payload) {
	case EventResize, EventScroll:
		return LayoutEvent(payload), true
	}
	return "", false
}

// ListenLayout installs the resize/scroll hooks in the current document and
// every future one, then calls fn for each event until ctx is done. It
// returns once the hooks are installed.
func (t *Tab) ListenLayout(ctx context.Context, logger *slog.Logger, fn func(LayoutEvent)) error {
	if logger == nil {
		logger = slog.Default()
	}
	page := t.Page

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		ev, ok := parseLayoutEvent(e.Payload)
		if !ok {
			logger.Debug("browser: unknown layout payload", "payload", e.Payload)
			return
		}
		fn(ev)
	})
	go wait()

	if _, err := page.EvalOnNewDocument(fmt.Sprintf("(%s)()", layoutJS)); err != nil {
		logger.Warn("browser: persist layout hooks failed", "page_id", t.PageID, "error", err)
	}
	if _, err := page.Context(ctx).Eval(layoutJS); err != nil {
		return fmt.Errorf("browser: inject layout hooks: %w", err)
	}
	logger.Debug("browser: layout hooks installed", "page_id", t.PageID)
	return nil
}
