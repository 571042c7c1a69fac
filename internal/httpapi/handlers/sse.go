package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

var errNoFlusher = errors.New("sse: response writer cannot flush")

// sseWriter frames chunks as Server-Sent Events. It is safe for the stream
// goroutine and the keep-alive goroutine to write concurrently.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher

	// stopPings ends the keep-alive loop; set by keepAlive.
	stopPings func()
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	return &sseWriter{w: w, f: f}, nil
}

// writeHeaders sends the status line and event-stream headers immediately.
func (s *sseWriter) writeHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // helpful if behind nginx
	s.w.WriteHeader(http.StatusOK)
	s.f.Flush()
}

func (s *sseWriter) WriteChunk(text string) error { return s.data(text) }

// WriteError and WriteDone are terminal: keep-alive pings stop before either
// is written.
func (s *sseWriter) WriteError(msg string) error {
	s.haltPings()
	return s.data("Error: " + msg)
}

func (s *sseWriter) WriteDone() error {
	s.haltPings()
	return s.data("[DONE]")
}

func (s *sseWriter) haltPings() {
	if s.stopPings != nil {
		s.stopPings()
	}
}

// data writes one event. Text containing line breaks becomes several data
// lines of the same event.
func (s *sseWriter) data(text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

func (s *sseWriter) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// keepAlive writes a ping comment every interval until the returned stop
// function is called. onPing runs after each successful ping.
func (s *sseWriter) keepAlive(interval time.Duration, onPing func()) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.comment("ping"); err != nil {
					return
				}
				if onPing != nil {
					onPing()
				}
			}
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
	s.stopPings = stop
	return stop
}
