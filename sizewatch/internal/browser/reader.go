// CLAUDE:SUMMARY Reads (node, attribute) values for a target in one Eval and reports detached nodes.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

// ErrDetached is returned when an element target's node is no longer in the
// document.
var ErrDetached = errors.New("browser: node detached")

// readJS reads every (node, attribute) pair in one round trip. It returns
// null when the stamped node is gone. offsetBottom and offsetRight are
// derived from the offset box. Attributes missing on the root node of the
// viewport are read from window (innerWidth, scrollY, ...).
const readJS = `(target, reads, attr) => {
	const root = document.documentElement;
	const body = document.body;
	let self = null;
	if (target.kind === "element") {
		self = document.querySelector("[" + attr + "=\"" + CSS.escape(target.id) + "\"]");
		if (!self || !self.isConnected) return null;
	}
	const node = (e) => e === "self" ? self : (e === "body" ? body : root);
	return reads.map((r) => {
		const n = node(r.element);
		if (!n) return "undefined";
		switch (r.attr) {
		case "offsetBottom": return String(n.offsetTop + n.offsetHeight);
		case "offsetRight": return String(n.offsetLeft + n.offsetWidth);
		}
		let v = n[r.attr];
		if (v === undefined && target.kind === "viewport") v = window[r.attr];
		return String(v);
	});
}`

// Reader reads geometry from a page. It implements the engine's reader
// contract.
type Reader struct {
	page *rod.Page
}

// NewReader wraps a Rod page.
func NewReader(page *rod.Page) *Reader {
	return &Reader{page: page}
}

// ReadAll evaluates every read of t in the page, in order.
func (r *Reader) ReadAll(ctx context.Context, t geometry.Target, reads []geometry.Read) ([]string, error) {
	res, err := r.page.Context(ctx).Eval(readJS, t, reads, StampAttr)
	if err != nil {
		return nil, fmt.Errorf("browser: read %s: %w", t, err)
	}
	return decodeValues(res.Value.JSON("", ""), len(reads))
}

// decodeValues parses the JSON result of readJS.
func decodeValues(raw string, want int) ([]string, error) {
	if raw == "" || raw == "null" {
		return nil, ErrDetached
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, fmt.Errorf("browser: decode values: %w", err)
	}
	if len(vals) != want {
		return nil, fmt.Errorf("browser: decode values: got %d, want %d", len(vals), want)
	}
	return vals, nil
}
