package sizewatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

func noop(context.Context, Target, *Observed) {}

func TestRegistration_Properties(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
		want []Property
	}{
		{"callback only", OnResize(noop), []Property{"height", "width"}},
		{"list", OnResizeOf([]Property{"top", "left"}, noop), []Property{"top", "left"}},
		{"empty list", OnResizeOf(nil, noop), []Property{"height", "width"}},
		{"blank entries dropped", OnResizeOf([]Property{"", "bottom"}, noop), []Property{"bottom"}},
		{"single", OnResizeOfProperty("scrollTop", noop), []Property{"scrollTop"}},
		{"blank single", OnResizeOfProperty("", noop), []Property{"height", "width"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reg.Properties(); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistration_ListIsCopied(t *testing.T) {
	props := []Property{geometry.Height}
	reg := OnResizeOf(props, noop)
	props[0] = geometry.Width
	if got := reg.Properties(); got[0] != geometry.Height {
		t.Errorf("registration aliases caller slice: %v", got)
	}
}

func TestRegistration_Valid(t *testing.T) {
	if OnResize(nil).Valid() {
		t.Error("nil handler should be invalid")
	}
	if !OnResizeOfProperty("height", noop).Valid() {
		t.Error("handler should be valid")
	}
}
