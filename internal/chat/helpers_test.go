package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chatstream/internal/ai"
	"github.com/suPer8Hu/chatstream/internal/db"
	"github.com/suPer8Hu/chatstream/internal/models"
)

func openTestGateway(t *testing.T) *db.Gateway {
	t.Helper()
	gdb, err := db.Connect("sqlite:file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, Models()...))

	gw := db.NewGateway(gdb)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func seedUser(t *testing.T, gw *db.Gateway, id string) {
	t.Helper()
	u := models.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}
	require.NoError(t, gw.DB(context.Background()).Create(&u).Error)
}

// fakeProvider answers Chat with reply and records what it was sent.
type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	last  []ai.Message
}

func (p *fakeProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = append([]ai.Message(nil), messages...)
	return p.reply, p.err
}

func registryWith(p ai.Provider) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) { return p, nil })
	return reg
}

// scriptedProvider streams a fixed list of events, then ends with final/err.
type scriptedProvider struct {
	openErr error
	events  []ai.Event
	final   string
	err     error
	// block keeps the run open until its context ends
	block bool
}

func (p *scriptedProvider) Chat(context.Context, []ai.Message) (string, error) {
	return p.final, p.err
}

func (p *scriptedProvider) StreamChat(ctx context.Context, _ []ai.Message) (*ai.Run, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return ai.Start(ctx, func(ctx context.Context, emit ai.Emit) (string, error) {
		for _, ev := range p.events {
			if !emit(ev) {
				return "", ctx.Err()
			}
		}
		if p.block {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return p.final, p.err
	}), nil
}

type recordedChunk struct {
	text string
	at   time.Time
}

// recordingWriter captures everything the engine sends. failOn makes the
// n-th chunk write (1-based) fail; onChunk runs after each accepted chunk.
type recordingWriter struct {
	chunks  []recordedChunk
	errors  []string
	done    int
	events  []string
	failOn  int
	onChunk func(n int)
}

func (w *recordingWriter) WriteChunk(text string) error {
	if w.failOn > 0 && len(w.chunks)+1 == w.failOn {
		return context.Canceled
	}
	w.chunks = append(w.chunks, recordedChunk{text: text, at: time.Now()})
	w.events = append(w.events, "chunk:"+text)
	if w.onChunk != nil {
		w.onChunk(len(w.chunks))
	}
	return nil
}

func (w *recordingWriter) WriteError(msg string) error {
	w.errors = append(w.errors, "Error: "+msg)
	w.events = append(w.events, "error:"+msg)
	return nil
}

func (w *recordingWriter) WriteDone() error {
	w.done++
	w.events = append(w.events, "done")
	return nil
}

func (w *recordingWriter) texts() []string {
	out := make([]string, 0, len(w.chunks))
	for _, c := range w.chunks {
		out = append(out, c.text)
	}
	return out
}

func (w *recordingWriter) joined() string {
	var s string
	for _, c := range w.chunks {
		s += c.text
	}
	return s
}

type countingObserver struct {
	started, firstChunks, fallbacks, gone int
	finished                             []StreamStatus
}

func (o *countingObserver) StreamStarted()           { o.started++ }
func (o *countingObserver) FirstChunk(time.Duration) { o.firstChunks++ }
func (o *countingObserver) FallbackUsed()            { o.fallbacks++ }
func (o *countingObserver) ClientGone()              { o.gone++ }
func (o *countingObserver) StreamFinished(s StreamStatus, _ time.Duration) {
	o.finished = append(o.finished, s)
}
