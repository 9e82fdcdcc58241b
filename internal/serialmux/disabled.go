package serialmux

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// DisabledSerialMux takes the place of the radio link when scans arrive some
// other way. It never yields a frame. Subscriptions are still tracked so that
// Close releases any reader blocked on them.
type DisabledSerialMux struct {
	// Input describes where scans come from instead, e.g. "udp :5000".
	Input string

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: map[string]chan string{}}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(id)
}

// release closes one subscription. d.mu must be held.
func (d *DisabledSerialMux) release(id string) {
	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

// SendCommand discards cmd; there is no radio to configure.
func (d *DisabledSerialMux) SendCommand(cmd string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id := range d.subs {
		d.release(id)
	}
	return nil
}

// AttachAdminRoutes mounts /debug/serial, which reports that the link is off.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial", "Serial scan link status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if d.Input == "" {
			fmt.Fprintln(w, "serial link disabled")
			return
		}
		fmt.Fprintf(w, "serial link disabled; scans from %s\n", d.Input)
	})
}
