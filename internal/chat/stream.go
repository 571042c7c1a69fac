package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chatstream/internal/ai"
	"github.com/suPer8Hu/chatstream/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChunkWriter is the client side of a stream. Any write error is taken to mean
// the client has gone away.
type ChunkWriter interface {
	WriteChunk(text string) error
	WriteError(msg string) error
	WriteDone() error
}

// StreamObserver receives lifecycle signals for metrics.
type StreamObserver interface {
	StreamStarted()
	FirstChunk(latency time.Duration)
	FallbackUsed()
	ClientGone()
	StreamFinished(status StreamStatus, elapsed time.Duration)
}

type StreamStatus string

const (
	// StreamSuccess: upstream finished, reply persisted (if any), sentinel sent.
	StreamSuccess StreamStatus = "success"
	// StreamPartial: the stream ended early but the text gathered so far was saved.
	StreamPartial StreamStatus = "partial"
	// StreamFailed: nothing was saved.
	StreamFailed StreamStatus = "failed"
)

type StreamResult struct {
	Status       StreamStatus
	Content      string
	MessageID    string
	Chunks       int
	Fallback     bool
	Disconnected bool
	// Err is the upstream or persistence failure, nil on success.
	Err error
}

type EngineOptions struct {
	ChunkDelay      time.Duration
	UpstreamTimeout time.Duration
	PersistTimeout  time.Duration
}

// Engine turns one upstream generation into a chunk stream and records the
// assistant reply.
type Engine struct {
	gw   *db.Gateway
	opts EngineOptions
	obs  StreamObserver
	log  *zap.Logger
}

func NewEngine(gw *db.Gateway, opts EngineOptions, obs StreamObserver, log *zap.Logger) *Engine {
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 120 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{gw: gw, opts: opts, obs: obs, log: log}
}

type StreamRequest struct {
	ConversationID string
	Messages       []ai.Message
	Provider       ai.Provider
}

// streamState is the accumulator plus what has happened to the client.
type streamState struct {
	ctx   context.Context
	stop  context.CancelFunc
	w     ChunkWriter
	obs   StreamObserver
	start time.Time

	acc    strings.Builder
	chunks int
	gone   bool
}

// accept records text and forwards it unless the client is gone.
func (st *streamState) accept(text string) {
	st.acc.WriteString(text)
	if st.gone {
		return
	}
	if st.ctx.Err() != nil {
		st.markGone()
		return
	}
	if err := st.w.WriteChunk(text); err != nil {
		st.markGone()
		return
	}
	if st.chunks == 0 {
		st.obs.FirstChunk(time.Since(st.start))
	}
	st.chunks++
}

func (st *streamState) markGone() {
	if !st.gone {
		st.gone = true
		st.obs.ClientGone()
		st.stop()
	}
}

// Run streams one reply for req to w. The assistant message is written at
// most once, on its own connection, before the terminal chunk. An upstream
// failure is reported as an error chunk followed by the sentinel; the sentinel
// is dropped only when a non-empty reply could not be saved. Run never
// returns early on client cancellation without persisting what it has.
func (e *Engine) Run(ctx context.Context, req StreamRequest, w ChunkWriter) StreamResult {
	e.obs.StreamStarted()

	upCtx, cancel := context.WithTimeout(ctx, e.opts.UpstreamTimeout)
	defer cancel()
	st := &streamState{ctx: ctx, stop: cancel, w: w, obs: e.obs, start: time.Now()}

	res := StreamResult{}
	streamErr := e.consume(upCtx, req, st, &res)
	if streamErr != nil && (st.gone || ctx.Err() != nil) {
		// cancellation caused by the client leaving is not an upstream failure
		st.markGone()
		streamErr = nil
	}

	res.Content = st.acc.String()
	res.Chunks = st.chunks
	res.Disconnected = st.gone

	var persistErr error
	if res.Content != "" {
		var msg *Message
		msg, persistErr = e.persist(ctx, req.ConversationID, res.Content)
		if persistErr != nil {
			e.log.Error("persist assistant message",
				zap.String("conversation_id", req.ConversationID),
				zap.Int("bytes", len(res.Content)),
				zap.Error(persistErr))
		} else {
			res.MessageID = msg.ID
		}
	}

	switch {
	case streamErr != nil:
		res.Err = streamErr
		res.Status = StreamFailed
		if res.MessageID != "" {
			res.Status = StreamPartial
		}
		e.log.Warn("stream upstream error",
			zap.String("conversation_id", req.ConversationID),
			zap.Bool("persisted", res.MessageID != ""),
			zap.Error(streamErr))
		if !st.gone {
			_ = w.WriteError(streamErr.Error())
			// the sentinel is withheld only when saving what arrived failed
			if persistErr == nil {
				if err := w.WriteDone(); err != nil {
					st.markGone()
					res.Disconnected = true
				}
			}
		}
	case persistErr != nil:
		res.Err = persistErr
		res.Status = StreamFailed
		if !st.gone {
			_ = w.WriteError("could not save response")
		}
	case st.gone:
		res.Status = StreamFailed
		if res.MessageID != "" {
			res.Status = StreamPartial
		}
	default:
		res.Status = StreamSuccess
		if err := w.WriteDone(); err != nil {
			st.markGone()
			res.Disconnected = true
		}
	}

	e.obs.StreamFinished(res.Status, time.Since(st.start))
	return res
}

// consume forwards upstream deltas and, when none carried text, paces out the
// upstream's final output instead.
func (e *Engine) consume(ctx context.Context, req StreamRequest, st *streamState, res *StreamResult) error {
	if req.Provider == nil {
		return errors.New("no upstream provider configured")
	}
	run, err := ai.Open(ctx, req.Provider, req.Messages)
	if err != nil {
		return err
	}

	for ev := range run.Events() {
		switch ev := ev.(type) {
		case ai.Delta:
			if strings.TrimSpace(ev.Text) == "" {
				continue
			}
			st.accept(ev.Text)
		case ai.Other:
			// no assistant text
		}
	}
	if err := run.Err(); err != nil {
		return wrapUpstream(err)
	}
	if st.acc.Len() > 0 || st.gone {
		return nil
	}

	final, err := run.Final(ctx)
	if err != nil {
		return fmt.Errorf("could not get response: %w", wrapUpstream(err))
	}
	res.Fallback = true
	e.obs.FallbackUsed()
	return e.chunkFinal(ctx, final, st)
}

// chunkFinal splits text on whitespace and forwards each word followed by a
// space, pausing between chunks.
func (e *Engine) chunkFinal(ctx context.Context, text string, st *streamState) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for i, word := range strings.Fields(text) {
		if i > 0 && e.opts.ChunkDelay > 0 {
			if timer == nil {
				timer = time.NewTimer(e.opts.ChunkDelay)
			} else {
				timer.Reset(e.opts.ChunkDelay)
			}
			select {
			case <-timer.C:
			case <-ctx.Done():
				return wrapUpstream(ctx.Err())
			}
		}
		st.accept(word + " ")
		if st.gone {
			return nil
		}
	}
	return nil
}

// persist writes the assistant reply over a connection of its own, under a
// context that outlives the client.
func (e *Engine) persist(ctx context.Context, convID, content string) (*Message, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.PersistTimeout)
	defer cancel()

	var msg *Message
	err := e.gw.Scoped(pctx, func(conn *gorm.DB) error {
		m, err := appendMessage(pctx, NewRepo(conn), convID, RoleAssistant, content)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

func wrapUpstream(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("upstream timed out: %w", err)
	}
	return err
}

type nopObserver struct{}

func (nopObserver) StreamStarted()                             {}
func (nopObserver) FirstChunk(time.Duration)                   {}
func (nopObserver) FallbackUsed()                              {}
func (nopObserver) ClientGone()                                {}
func (nopObserver) StreamFinished(StreamStatus, time.Duration) {}
