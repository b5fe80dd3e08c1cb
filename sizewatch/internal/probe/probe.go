// CLAUDE:SUMMARY Compiles properties into attribute reads and encodes their values as a signature.
// Package probe compiles a target's property set into an ordered list of
// attribute reads and turns the values of those reads into a signature
// string used purely for equality comparison.
package probe

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

// Separator terminates every value in a signature. Literal values that
// contain it are escaped so distinct tuples never collide.
const Separator = ";"

var escaper = strings.NewReplacer(`\`, `\\`, Separator, `\`+Separator)

// Reader reads the current value of every (element, attribute) pair for a
// target, in order. Implementations must not mutate the page.
type Reader interface {
	ReadAll(ctx context.Context, t geometry.Target, reads []geometry.Read) ([]string, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, t geometry.Target, reads []geometry.Read) ([]string, error)

func (f ReaderFunc) ReadAll(ctx context.Context, t geometry.Target, reads []geometry.Read) ([]string, error) {
	return f(ctx, t, reads)
}

// attrTable maps a property to its underlying attributes for one kind of
// target. Properties absent from the table are read literally.
type attrTable map[geometry.Property][]string

var (
	viewportAttrs = attrTable{
		geometry.Height: {"clientHeight"},
		geometry.Width:  {"clientWidth"},
	}
	documentAttrs = attrTable{
		geometry.Height: {"clientHeight", "scrollHeight", "offsetHeight"},
		geometry.Width:  {"clientWidth", "scrollWidth", "offsetWidth"},
	}
	elementAttrs = attrTable{
		geometry.Height: {"clientHeight"},
		geometry.Width:  {"clientWidth"},
		geometry.Top:    {"offsetTop"},
		geometry.Left:   {"offsetLeft"},
		geometry.Bottom: {"offsetBottom"},
		geometry.Right:  {"offsetRight"},
	}
)

func layout(kind geometry.Kind) ([]geometry.Node, attrTable) {
	switch kind {
	case geometry.KindViewport:
		return []geometry.Node{geometry.Root}, viewportAttrs
	case geometry.KindDocument:
		return []geometry.Node{geometry.Body, geometry.Root}, documentAttrs
	default:
		return []geometry.Node{geometry.Self}, elementAttrs
	}
}

// Probe is a compiled, immutable probe specification.
type Probe struct {
	target geometry.Target
	reads  []geometry.Read
}

// Compile resolves props against the target's kind. The read order follows
// props, then the node order of the kind, then the attribute order of the
// table, so the same property list always compiles to the same reads.
func Compile(t geometry.Target, props []geometry.Property) *Probe {
	elems, table := layout(t.Kind)
	var reads []geometry.Read
	for _, p := range props {
		attrs, ok := table[p]
		if !ok {
			attrs = []string{string(p)}
		}
		for _, el := range elems {
			for _, a := range attrs {
				reads = append(reads, geometry.Read{Element: el, Attr: a})
			}
		}
	}
	return &Probe{target: t, reads: reads}
}

// Reads returns a copy of the compiled read list.
func (p *Probe) Reads() []geometry.Read {
	out := make([]geometry.Read, len(p.reads))
	copy(out, p.reads)
	return out
}

// Target returns the target the probe was compiled for.
func (p *Probe) Target() geometry.Target { return p.target }

// Signature reads every compiled attribute and concatenates the values.
// It always returns the fresh signature; deciding whether it is a change
// is up to the caller.
func (p *Probe) Signature(ctx context.Context, r Reader) (string, error) {
	vals, err := r.ReadAll(ctx, p.target, p.reads)
	if err != nil {
		return "", fmt.Errorf("probe: read %s: %w", p.target, err)
	}
	if len(vals) != len(p.reads) {
		return "", fmt.Errorf("probe: read %s: got %d values, want %d", p.target, len(vals), len(p.reads))
	}
	return Join(vals), nil
}

// Join encodes values into a signature.
func Join(vals []string) string {
	var b strings.Builder
	for _, v := range vals {
		escaper.WriteString(&b, v)
		b.WriteString(Separator)
	}
	return b.String()
}

// Reshape restricts a signature taken with reads from to the reads in to,
// in to's order. It reports false when a read of to was not taken or the
// signature does not match from.
func Reshape(sig string, from, to []geometry.Read) (string, bool) {
	vals := Split(sig)
	if len(vals) != len(from) {
		return "", false
	}
	out := make([]string, len(to))
	for i, r := range to {
		j := slices.Index(from, r)
		if j < 0 {
			return "", false
		}
		out[i] = vals[j]
	}
	return Join(out), true
}

// Split decodes a signature back into its values.
func Split(sig string) []string {
	var (
		out []string
		cur strings.Builder
		esc bool
	)
	for _, r := range sig {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case string(r) == Separator:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return out
}
