package keyboard

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "f1"},
		{"F1", "f1"},
		{"  f12 ", "f12"},
		{"SPACE", "space"},
		{"tab", "tab"},
		{"m", "m"},
		{"7", "7"},
		{"ctrl+space", "ctrl+space"},
		{"Shift+Ctrl+M", "ctrl+shift+m"},
		{"control+f2", "ctrl+f2"},
		{"ctrl+ctrl+f3", "ctrl+f3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if k.Name != tt.want {
				t.Errorf("Parse(%q).Name = %q, want %q", tt.in, k.Name, tt.want)
			}
		})
	}
}

func TestParse_Rejected(t *testing.T) {
	for _, in := range []string{"fn", "FN", "function", "ctrl", "ctrl_l", "shift", "alt", "grave", "`", "f13x", "alt+f1", "ctrl+fn"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, ErrUnsupportedKey) {
				t.Fatalf("Parse(%q) err = %v, want ErrUnsupportedKey", in, err)
			}
			if !strings.Contains(err.Error(), "f1") {
				t.Errorf("diagnostic should list recommended keys, got %q", err.Error())
			}
		})
	}
}

func TestRecommended_AllSupported(t *testing.T) {
	for _, k := range Recommended {
		if !IsSupported(k) {
			t.Errorf("recommended key %q is not supported", k)
		}
	}
}

func TestSupported_Sorted(t *testing.T) {
	names := Supported()
	if len(names) != len(keyCodes) {
		t.Fatalf("got %d names, want %d", len(names), len(keyCodes))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("not sorted at %d: %q > %q", i, names[i-1], names[i])
		}
	}
}
