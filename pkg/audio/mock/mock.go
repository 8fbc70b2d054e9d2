// Package mock provides in-memory implementations of the [audio.Source] and
// [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Chunks: [][]byte{c1, c2}}
//	sink := &mock.Sink{}
//	// ... run the pipeline ...
//	got := sink.Utterances()
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. It returns Chunks in
// order, then ReadErr (io.EOF when nil).
type Source struct {
	mu sync.Mutex

	// Chunks are returned one per ReadChunk call.
	Chunks [][]byte

	// ReadErr is returned once Chunks are exhausted. Defaults to io.EOF.
	ReadErr error

	// Block, when true, makes ReadChunk wait for ctx cancellation instead of
	// returning ReadErr once Chunks are exhausted.
	Block bool

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountReadChunk records how many times ReadChunk was called.
	CallCountReadChunk int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// ReadChunk returns the next scripted chunk.
func (s *Source) ReadChunk(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.CallCountReadChunk++
	if s.next < len(s.Chunks) {
		c := s.Chunks[s.next]
		s.next++
		s.mu.Unlock()
		return c, nil
	}
	block, err := s.Block, s.ReadErr
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// CloseCount returns CallCountClose under the lock.
func (s *Source) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Remaining returns how many scripted chunks have not been read yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks) - s.next
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that stores every utterance it
// receives.
type Sink struct {
	mu sync.Mutex

	// WriteErr is returned by every WriteUtterance call. The utterance is
	// still recorded.
	WriteErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	written []audio.Utterance
}

// WriteUtterance records a copy of u and returns WriteErr.
func (s *Sink) WriteUtterance(_ context.Context, u audio.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Data = append([]byte(nil), u.Data...)
	s.written = append(s.written, u)
	return s.WriteErr
}

// Close records the call and returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Utterances returns a copy of everything written so far.
func (s *Sink) Utterances() []audio.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Utterance, len(s.written))
	copy(out, s.written)
	return out
}

var _ audio.Sink = (*Sink)(nil)
