package keyboard

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

// Event is a single press or release of the registered key.
type Event struct {
	// Down is true for a press and false for a release.
	Down bool
}

// Hotkey is a registered global hotkey. Its events are delivered in the order
// the OS reports them on a single channel.
type Hotkey struct {
	hk     *hotkey.Hotkey
	key    Key
	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Register grabs k system-wide. The caller must call [Hotkey.Close] to
// release it.
func Register(k Key) (*Hotkey, error) {
	hk := hotkey.New(k.mods, k.code)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("keyboard: register %q: %w", k.Name, err)
	}
	h := &Hotkey{
		hk:     hk,
		key:    k,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.forward()
	return h, nil
}

// Key returns the registered key.
func (h *Hotkey) Key() Key { return h.key }

// Events returns the press/release channel. It is never closed; stop reading
// after Close.
func (h *Hotkey) Events() <-chan Event { return h.events }

// Close unregisters the hotkey. It is safe to call more than once.
func (h *Hotkey) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		h.wg.Wait()
		if uerr := h.hk.Unregister(); uerr != nil {
			err = fmt.Errorf("keyboard: unregister %q: %w", h.key.Name, uerr)
		}
	})
	return err
}

func (h *Hotkey) forward() {
	defer h.wg.Done()
	down, up := h.hk.Keydown(), h.hk.Keyup()
	for {
		var ev Event
		select {
		case <-h.done:
			return
		case <-down:
			ev = Event{Down: true}
		case <-up:
			ev = Event{Down: false}
		}
		select {
		case h.events <- ev:
		case <-h.done:
			return
		}
	}
}
