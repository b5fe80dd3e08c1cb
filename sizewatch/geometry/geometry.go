// Package geometry defines the targets and properties sizewatch observes.
// These types are the public contract shared by the engine, the browser
// reader, and any consumer of change events.
package geometry

import (
	"fmt"
	"strings"
)

// Kind selects how a target's properties map to underlying DOM reads.
type Kind string

const (
	KindElement  Kind = "element"  // a regular DOM node
	KindViewport Kind = "viewport" // the window, read through the root element
	KindDocument Kind = "document" // the whole document, read through body and root
)

// ParseKind validates a kind name. Empty means element.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindElement:
		return KindElement, nil
	case KindViewport, "window":
		return KindViewport, nil
	case KindDocument:
		return KindDocument, nil
	default:
		return "", fmt.Errorf("geometry: unknown target kind %q", s)
	}
}

// Target identifies one observed node, or one of the viewport/document
// pseudo-targets.
type Target struct {
	Kind     Kind   `json:"kind"`
	Selector string `json:"selector,omitempty"`
	// ID is the stamp carried by an element target's node. Unused for the
	// viewport and document targets.
	ID string `json:"id,omitempty"`
}

// Viewport is the window pseudo-target.
func Viewport() Target { return Target{Kind: KindViewport} }

// Document is the document pseudo-target.
func Document() Target { return Target{Kind: KindDocument} }

// Element returns an element target for a stamped node.
func Element(selector, id string) Target {
	return Target{Kind: KindElement, Selector: selector, ID: id}
}

// Key is the registry identity of the target.
func (t Target) Key() string {
	switch t.Kind {
	case KindViewport:
		return string(KindViewport)
	case KindDocument:
		return string(KindDocument)
	default:
		return "element:" + t.ID
	}
}

func (t Target) String() string {
	if t.Kind == KindElement {
		return fmt.Sprintf("%s[%s]", t.Selector, t.ID)
	}
	return string(t.Kind)
}

// Property is a watched geometric property. Names outside the vocabulary
// are read as literal attribute names.
type Property string

const (
	Height Property = "height"
	Width  Property = "width"
	Top    Property = "top"
	Left   Property = "left"
	Bottom Property = "bottom"
	Right  Property = "right"
)

// DefaultProperties is used when a registration names no properties.
func DefaultProperties() []Property { return []Property{Height, Width} }

// ParseProperties splits a comma separated list, dropping blanks.
func ParseProperties(s string) []Property {
	var out []Property
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, Property(p))
		}
	}
	return out
}

// Properties converts plain names.
func Properties(names ...string) []Property {
	out := make([]Property, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, Property(n))
		}
	}
	return out
}

// Node names the node a read is taken from.
type Node string

const (
	Self Node = "self" // the target node itself
	Body Node = "body" // document.body
	Root Node = "root" // document.documentElement
)

// Read is one (node, attribute) pair of a probe.
type Read struct {
	Element Node   `json:"element"`
	Attr    string `json:"attr"`
}
