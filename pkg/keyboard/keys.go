// Package keyboard registers a global push-to-talk hotkey and reports its
// press and release events.
//
// Key names are case-insensitive and take the form "[ctrl+][shift+]key",
// where key is one of f1–f12, space, tab, a–z or 0–9. Keys that cannot be
// observed reliably as global hotkeys on every supported desktop, such as
// fn or a bare modifier, are rejected by [Parse] with [ErrUnsupportedKey].
//
// Registration is backed by golang.design/x/hotkey. On macOS the caller must
// run the program through golang.design/x/hotkey/mainthread.
package keyboard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.design/x/hotkey"
)

// ErrUnsupportedKey is returned by [Parse] for key names that cannot be used
// as a push-to-talk trigger.
var ErrUnsupportedKey = errors.New("keyboard: unsupported key")

// DefaultKey is the trigger used when none is configured.
const DefaultKey = "f1"

// Recommended lists the keys suggested in diagnostics.
var Recommended = []string{"f1", "f2", "f3", "f4", "space", "tab", "ctrl+space", "ctrl+shift+m"}

var keyCodes = map[string]hotkey.Key{
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
	"space": hotkey.KeySpace, "tab": hotkey.KeyTab,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
}

var modifiers = map[string]hotkey.Modifier{
	"ctrl":  hotkey.ModCtrl,
	"shift": hotkey.ModShift,
}

// Aliases accepted for modifiers and keys.
var aliases = map[string]string{
	"control": "ctrl",
	"ctrl_l":  "ctrl",
	"ctrl_r":  "ctrl",
	"shift_l": "shift",
	"shift_r": "shift",
}

// Names that are never usable because the OS does not deliver them as
// global hotkeys on every platform.
var rejected = map[string]string{
	"fn":       "the fn key is handled by keyboard firmware and never reaches the OS",
	"function": "the fn key is handled by keyboard firmware and never reaches the OS",
	"ctrl":     "a bare modifier cannot be registered as a global hotkey",
	"shift":    "a bare modifier cannot be registered as a global hotkey",
	"alt":      "alt is not portable across desktops and cannot be registered alone",
	"cmd":      "a bare modifier cannot be registered as a global hotkey",
	"win":      "a bare modifier cannot be registered as a global hotkey",
	"super":    "a bare modifier cannot be registered as a global hotkey",
	"grave":    "the grave key has no portable key code",
	"`":        "the grave key has no portable key code",
	"backtick": "the grave key has no portable key code",
}

// Key is a validated trigger key.
type Key struct {
	// Name is the canonical form, e.g. "ctrl+shift+m".
	Name string

	mods []hotkey.Modifier
	code hotkey.Key
}

// Parse validates name and returns the corresponding [Key]. The error for an
// unsupported key wraps [ErrUnsupportedKey] and names the recommended keys.
func Parse(name string) (Key, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	if norm == "" {
		norm = DefaultKey
	}
	if a, ok := aliases[norm]; ok {
		norm = a
	}
	if reason, ok := rejected[norm]; ok {
		return Key{}, unsupported(name, reason)
	}

	parts := strings.Split(norm, "+")
	base := parts[len(parts)-1]
	if a, ok := aliases[base]; ok {
		base = a
	}
	code, ok := keyCodes[base]
	if !ok {
		if reason, bad := rejected[base]; bad {
			return Key{}, unsupported(name, reason)
		}
		return Key{}, unsupported(name, "unknown key")
	}

	k := Key{code: code}
	seen := map[string]bool{}
	var canon []string
	for _, p := range parts[:len(parts)-1] {
		if a, ok := aliases[p]; ok {
			p = a
		}
		mod, ok := modifiers[p]
		if !ok {
			return Key{}, unsupported(name, fmt.Sprintf("unknown modifier %q", p))
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		k.mods = append(k.mods, mod)
		canon = append(canon, p)
	}
	sort.Strings(canon) // "ctrl" < "shift"
	k.Name = strings.Join(append(canon, base), "+")
	return k, nil
}

func unsupported(name, reason string) error {
	return fmt.Errorf("%w %q: %s; try one of %s",
		ErrUnsupportedKey, name, reason, strings.Join(Recommended, ", "))
}

// Supported returns every accepted base key name in sorted order.
func Supported() []string {
	names := make([]string, 0, len(keyCodes))
	for n := range keyCodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether name parses to a valid [Key].
func IsSupported(name string) bool {
	_, err := Parse(name)
	return err == nil
}
