package geometry

import (
	"encoding/json"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", KindElement},
		{"element", KindElement},
		{"Viewport", KindViewport},
		{"window", KindViewport},
		{" document ", KindDocument},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseKind("frame"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestTargetKey(t *testing.T) {
	if Viewport().Key() != "viewport" || Document().Key() != "document" {
		t.Error("pseudo-target keys")
	}
	a := Element("#a", "x-0")
	b := Element(".other", "x-0")
	if a.Key() != b.Key() {
		t.Error("identity must follow the stamp, not the selector")
	}
	if a.Key() == Element("#a", "x-1").Key() {
		t.Error("distinct stamps share a key")
	}
	if a.String() != "#a[x-0]" {
		t.Errorf("String: got %q", a.String())
	}
}

func TestParseProperties(t *testing.T) {
	got := ParseProperties(" height, ,width,scrollTop ")
	if len(got) != 3 || got[0] != Height || got[1] != Width || got[2] != "scrollTop" {
		t.Fatalf("got %v", got)
	}
	if ParseProperties("") != nil {
		t.Error("empty list should be nil")
	}
	if d := DefaultProperties(); len(d) != 2 || d[0] != Height || d[1] != Width {
		t.Errorf("defaults: %v", d)
	}
}

func TestRead_JSONNode(t *testing.T) {
	data, err := json.Marshal(Read{Element: Body, Attr: "scrollHeight"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"element":"body","attr":"scrollHeight"}` {
		t.Fatalf("Read JSON: got %s", data)
	}
	if e := Element("#a", "x-0"); e.Kind != KindElement || e.ID != "x-0" {
		t.Errorf("Element: got %+v", e)
	}
}
