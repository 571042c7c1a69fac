package handlers

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)

	sw.writeHeaders()
	require.NoError(t, sw.WriteChunk("Hello"))
	require.NoError(t, sw.WriteChunk("line one\nline two"))
	require.NoError(t, sw.WriteChunk("crlf\r\nend"))
	require.NoError(t, sw.WriteError("boom"))
	require.NoError(t, sw.WriteDone())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		"data: Hello\n\n"+
			"data: line one\ndata: line two\n\n"+
			"data: crlf\ndata: end\n\n"+
			"data: Error: boom\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())
}

func TestSSEWriter_KeepAlive(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)

	var pings atomic.Int32
	stop := sw.keepAlive(5*time.Millisecond, func() { pings.Add(1) })
	require.Eventually(t, func() bool { return pings.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	stop() // idempotent

	sw.mu.Lock()
	body := rec.Body.String()
	sw.mu.Unlock()
	assert.True(t, strings.HasPrefix(body, ": ping\n\n"), body)

	n := pings.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, pings.Load(), "no pings after stop")
}

func TestSSEWriter_KeepAliveDisabled(t *testing.T) {
	sw, err := newSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)
	stop := sw.keepAlive(0, nil)
	stop()
}

func TestSSEWriter_NoPingAfterTerminal(t *testing.T) {
	cases := []struct {
		name   string
		finish func(*sseWriter) error
		last   string
	}{
		{"done", func(sw *sseWriter) error { return sw.WriteDone() }, "data: [DONE]\n\n"},
		{"error", func(sw *sseWriter) error { return sw.WriteError("boom") }, "data: Error: boom\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sw, err := newSSEWriter(rec)
			require.NoError(t, err)

			var pings atomic.Int32
			stop := sw.keepAlive(time.Millisecond, func() { pings.Add(1) })
			defer stop()
			require.Eventually(t, func() bool { return pings.Load() >= 1 }, time.Second, time.Millisecond)

			require.NoError(t, tc.finish(sw))
			time.Sleep(20 * time.Millisecond)

			sw.mu.Lock()
			body := rec.Body.String()
			sw.mu.Unlock()
			assert.True(t, strings.HasSuffix(body, tc.last), body)
		})
	}
}
