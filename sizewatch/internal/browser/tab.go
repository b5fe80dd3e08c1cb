package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

// StampAttr marks every element resolved from a selector. The stamp is the
// element's identity for as long as the node lives.
const StampAttr = "data-sizewatch-id"

// NavigateTimeout bounds navigation and the initial load wait.
const NavigateTimeout = 30 * time.Second

// TabOptions configures a new tab.
type TabOptions struct {
	// NoStealth opens a plain page without the stealth evasions.
	NoStealth bool
	// Width and Height override the emulated viewport when both are > 0.
	Width  int
	Height int
}

// Tab wraps a Rod page with sizewatch-specific setup: stealth, resource
// blocking, viewport emulation and element stamping.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	manager *Manager
}

// OpenTab creates a new tab and navigates to the URL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if opts.NoStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		blockResources(page, mgr.cfg.ResourceBlocking)
	}

	t := &Tab{Page: page, PageURL: pageURL, PageID: pageID, manager: mgr}

	if opts.Width > 0 && opts.Height > 0 {
		if err := t.SetViewport(ctx, opts.Width, opts.Height); err != nil {
			mgr.cfg.Logger.Warn("browser: set viewport failed", "page_id", pageID, "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// SetViewport emulates a window of the given size. The page sees a resize
// event.
func (t *Tab) SetViewport(ctx context.Context, width, height int) error {
	err := t.Page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport %dx%d: %w", width, height, err)
	}
	return nil
}

const resolveJS = `(selector, seed, attr) => {
	const ids = [];
	document.querySelectorAll(selector).forEach((node, i) => {
		let id = node.getAttribute(attr);
		if (!id) {
			id = seed + "-" + i;
			node.setAttribute(attr, id);
		}
		ids.push(id);
	});
	return ids;
}`

// Resolve turns a watch into targets. Viewport and document resolve to
// their single pseudo-target. Element selectors stamp each matched node
// that has no stamp yet, so resolving twice yields the same identities.
func (t *Tab) Resolve(ctx context.Context, kind geometry.Kind, selector string) ([]geometry.Target, error) {
	switch kind {
	case geometry.KindViewport:
		return []geometry.Target{geometry.Viewport()}, nil
	case geometry.KindDocument:
		return []geometry.Target{geometry.Document()}, nil
	}
	if selector == "" {
		return nil, fmt.Errorf("browser: resolve: empty selector")
	}

	res, err := t.Page.Context(ctx).Eval(resolveJS, selector, uuid.NewString(), StampAttr)
	if err != nil {
		return nil, fmt.Errorf("browser: resolve %q: %w", selector, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &ids); err != nil {
		return nil, fmt.Errorf("browser: resolve %q: decode: %w", selector, err)
	}

	targets := make([]geometry.Target, len(ids))
	for i, id := range ids {
		targets[i] = geometry.Element(selector, id)
	}
	return targets, nil
}

// Reader returns a reader bound to this tab.
func (t *Tab) Reader() *Reader {
	return NewReader(t.Page)
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
