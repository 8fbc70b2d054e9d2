// Package wsfeed broadcasts finished utterances to WebSocket subscribers.
//
// Every utterance is sent as two messages: a JSON text [Header] followed by
// one binary message carrying the raw 16-bit mono PCM. Subscribers are
// receive-only; anything they send is discarded.
package wsfeed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrClosed is returned by WriteUtterance after Close.
var ErrClosed = errors.New("wsfeed: hub closed")

// Defaults for [Options].
const (
	DefaultBuffer       = 8
	DefaultWriteTimeout = 5 * time.Second
)

// Header describes the binary message that follows it.
type Header struct {
	Type       string `json:"type"`
	Seq        int    `json:"seq"`
	SampleRate int    `json:"sample_rate"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	EndMS      int64  `json:"end_ms"`
}

// Options configures a Hub.
type Options struct {
	// Buffer is how many utterances may queue per subscriber before the
	// subscriber is dropped. Zero selects DefaultBuffer.
	Buffer int

	// WriteTimeout bounds each message write. Zero selects
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// OriginPatterns are passed to websocket.Accept for cross-origin
	// requests.
	OriginPatterns []string
}

type message struct {
	header Header
	data   []byte
}

type subscriber struct {
	msgs   chan message
	remote string
	// status and reason are set before msgs is closed by the hub.
	status websocket.StatusCode
	reason string
}

// Hub is an [audio.Sink] and an [http.Handler]. Mount it on a route and
// every connected client receives each utterance passed to WriteUtterance.
type Hub struct {
	opts Options

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup
}

var (
	_ audio.Sink   = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// NewHub returns a Hub with no subscribers.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Hub{opts: opts, subs: make(map[*subscriber]struct{})}
}

// ServeHTTP upgrades the request and streams utterances until the client
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := &subscriber{msgs: make(chan message, h.opts.Buffer), remote: r.RemoteAddr}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		slog.Warn("wsfeed: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "feed closed")
		return
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	slog.Info("wsfeed: subscriber connected", "remote", sub.remote, "subscribers", n)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case m, ok := <-sub.msgs:
			if !ok {
				conn.Close(sub.status, sub.reason)
				return
			}
			if err := h.send(ctx, conn, m); err != nil {
				h.remove(sub)
				slog.Warn("wsfeed: subscriber dropped", "remote", sub.remote, "err", err)
				return
			}
		case <-ctx.Done():
			h.remove(sub)
			slog.Info("wsfeed: subscriber disconnected", "remote", sub.remote)
			return
		}
	}
}

func (h *Hub) send(ctx context.Context, conn *websocket.Conn, m message) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, m.header); err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageBinary, m.data)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// WriteUtterance queues u for every subscriber without blocking. A
// subscriber whose queue is full is disconnected.
func (h *Hub) WriteUtterance(_ context.Context, u audio.Utterance) error {
	m := message{
		header: Header{
			Type:       "utterance",
			Seq:        u.Seq,
			SampleRate: u.SampleRate,
			Bytes:      len(u.Data),
			DurationMS: u.Duration().Milliseconds(),
			EndMS:      u.End.Milliseconds(),
		},
		data: append([]byte(nil), u.Data...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.subs {
		select {
		case sub.msgs <- m:
		default:
			delete(h.subs, sub)
			sub.status, sub.reason = websocket.StatusPolicyViolation, "subscriber too slow"
			close(sub.msgs)
			slog.Warn("wsfeed: subscriber dropped, queue full", "remote", sub.remote, "seq", u.Seq)
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and waits for their handlers to
// return. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.status, sub.reason = websocket.StatusGoingAway, "feed closed"
		close(sub.msgs)
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
