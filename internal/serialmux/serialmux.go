// Package serialmux fans frames read from one serial link out to any number
// of subscribers and serialises writes back to the device.
//
// A frame is whatever the configured bufio.SplitFunc yields: a text line for
// sensors that log over USB serial, or a 0xFF terminated packet for the SiK
// telemetry radio.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// maxFrameSize bounds a single frame.
const maxFrameSize = 1 << 20

// SerialPorter is the minimal surface of a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns a channel receiving every frame read after the call.
	// The ID is passed to Unsubscribe.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets a subscription.
	Unsubscribe(string)
	// SendCommand writes a newline terminated command to the device.
	SendCommand(string) error
	// Monitor reads frames until ctx is done or the port fails.
	Monitor(context.Context) error
	// Close closes every subscription and the port.
	Close() error

	// AttachAdminRoutes mounts the link debugging pages under /debug/.
	// tsweb restricts them to loopback and tailnet callers.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts link traffic since the mux was created.
type Stats struct {
	Frames  uint64 // frames read from the port
	Dropped uint64 // per-subscriber deliveries skipped because the reader was busy
}

// SerialMux multiplexes a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	split        bufio.SplitFunc
	framing      string
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      atomic.Bool
	frames       atomic.Uint64
	dropped      atomic.Uint64
}

// NewSerialMux wraps port. A nil split reads newline terminated frames.
func NewSerialMux[T SerialPorter](port T, split bufio.SplitFunc) *SerialMux[T] {
	framing := FramingSiK
	if split == nil {
		split = bufio.ScanLines
		framing = FramingLines
	}
	return &SerialMux[T]{
		port:        port,
		split:       split,
		framing:     framing,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	return Stats{Frames: s.frames.Load(), Dropped: s.dropped.Load()}
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads frames and offers each to every subscriber. A subscriber
// whose buffer is full misses the frame rather than stalling the link.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 4096), maxFrameSize)
	scan.Split(s.split)

	frameChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs on its own goroutine so the loop below
	// can still observe ctx
	go func() {
		defer close(frameChan)
		for scan.Scan() {
			select {
			case frameChan <- string(scan.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-frameChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if s.closing.Load() {
						return nil
					}
					return fmt.Errorf("serial read: %w", err)
				default:
					return nil
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.frames.Add(1)
			s.broadcast(frame)
		}
	}
}

func (s *SerialMux[T]) broadcast(frame string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// DisplayFrame renders a frame for humans: printable text as is, anything
// else as hex.
func DisplayFrame(frame string) string {
	if utf8.ValidString(frame) && strings.IndexFunc(frame, func(r rune) bool {
		return !unicode.IsPrint(r) && r != '\t'
	}) < 0 {
		return frame
	}
	return hex.EncodeToString([]byte(frame))
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s, s.framing)
}

func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface, framing string) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the serial link and tail its frames", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, struct{ Framing string }{framing}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events, one event per frame.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", DisplayFrame(frame)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
