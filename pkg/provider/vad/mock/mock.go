// Package mock provides scripted doubles for [vad.Engine] and
// [vad.SessionHandle].
//
//	sess := &mock.Session{
//	    Events:     []vad.Event{{Type: vad.EventSpeech}, {Type: vad.EventUtterance}},
//	    Utterances: [][]byte{pcm},
//	}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// NewSessionCall records one Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine hands out Session, or a fresh empty [Session] when it is nil.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	// NewSessionCalls lists every call in order.
	NewSessionCalls []NewSessionCall
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session replays a script of events. The n-th ProcessFrame call returns
// Events[n], or a silence event once the script is exhausted. Each
// EventUtterance queues the next entry of Utterances.
type Session struct {
	mu sync.Mutex

	Events     []vad.Event
	Utterances [][]byte

	// Err is returned by every ProcessFrame call from chunk index ErrAt on.
	Err   error
	ErrAt int

	CloseErr error

	// Chunks holds a copy of every chunk handed to ProcessFrame.
	Chunks [][]byte

	Resets int
	Closes int

	released int
	queue    [][]byte
}

func (s *Session) ProcessFrame(chunk []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.Chunks)
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	if s.Err != nil && n >= s.ErrAt {
		return vad.Event{}, s.Err
	}

	ev := vad.Event{Type: vad.EventSilence}
	if n < len(s.Events) {
		ev = s.Events[n]
	}
	if ev.Type == vad.EventUtterance && s.released < len(s.Utterances) {
		s.queue = append(s.queue, s.Utterances[s.released])
		s.released++
	}
	return ev, nil
}

func (s *Session) PopUtterance() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, vad.ErrNoUtterance
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	return u, nil
}

func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Reset only counts the call; the script position is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}

var _ vad.SessionHandle = (*Session)(nil)
