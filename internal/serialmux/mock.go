package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort replays canned frames and records what is written to it.
type MockSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	stop    chan struct{}
	once    sync.Once
}

// NewMockSerialMux returns a mux fed by frames, written in order every
// interval and then repeated. The split matches NewSerialMux.
func NewMockSerialMux(frames [][]byte, interval time.Duration, split bufio.SplitFunc) (*SerialMux[*MockSerialPort], *MockSerialPort) {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; len(frames) > 0; i = (i + 1) % len(frames) {
			select {
			case <-port.stop:
				return
			case <-ticker.C:
			}
			if _, err := w.Write(frames[i]); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port, split), port
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stop:
		return 0, errors.New("serial port closed")
	default:
	}
	return m.written.Write(p)
}

func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.r.Close()
	})
	return nil
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}
