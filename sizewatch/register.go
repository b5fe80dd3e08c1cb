package sizewatch

import "github.com/hazyhaar/sizewatch/sizewatch/geometry"

type registrationKind int

const (
	regDefault registrationKind = iota
	regList
	regSingle
)

// Registration is what Engine.Register applies to each target: a handler
// and the properties it watches. Build one with OnResize, OnResizeOf or
// OnResizeOfProperty.
type Registration struct {
	kind    registrationKind
	props   []Property
	handler Handler
}

// OnResize watches height and width.
func OnResize(h Handler) Registration {
	return Registration{kind: regDefault, handler: h}
}

// OnResizeOf watches a list of properties. An empty list means height and
// width.
func OnResizeOf(props []Property, h Handler) Registration {
	cp := make([]Property, len(props))
	copy(cp, props)
	return Registration{kind: regList, props: cp, handler: h}
}

// OnResizeOfProperty watches a single property.
func OnResizeOfProperty(p Property, h Handler) Registration {
	return Registration{kind: regSingle, props: []Property{p}, handler: h}
}

// Valid reports whether the registration has a handler to call.
func (r Registration) Valid() bool { return r.handler != nil }

// Properties resolves the watched property set.
func (r Registration) Properties() []Property {
	switch r.kind {
	case regSingle:
		if r.props[0] != "" {
			return r.props
		}
	case regList:
		var out []Property
		for _, p := range r.props {
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return geometry.DefaultProperties()
}
