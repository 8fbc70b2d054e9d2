package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mock"
)

func TestSink_SkipsWhileOpen(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	inner := &mock.Sink{WriteErr: errors.New("disk full")}
	s := resilience.GuardSink(inner, resilience.CircuitBreakerConfig{
		Name:         "wav",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Now:          func() time.Time { return now },
	})
	ctx := context.Background()
	u := audio.Utterance{Seq: 1, SampleRate: 16000, Data: make([]byte, 4)}

	for i := 0; i < 2; i++ {
		if err := s.WriteUtterance(ctx, u); err == nil || errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("write %d: err = %v, want the sink error", i, err)
		}
	}
	if err := s.WriteUtterance(ctx, u); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := len(inner.Utterances()); got != 2 {
		t.Errorf("inner sink saw %d writes, want 2", got)
	}

	inner.WriteErr = nil
	now = now.Add(time.Minute)
	if err := s.WriteUtterance(ctx, u); err != nil {
		t.Fatalf("trial write: %v", err)
	}
	if s.Breaker.State() != resilience.StateClosed {
		t.Errorf("state = %v after a good trial write, want closed", s.Breaker.State())
	}
}

func TestSink_CancelledContextIsNotAFailure(t *testing.T) {
	t.Parallel()
	inner := &mock.Sink{}
	s := resilience.GuardSink(inner, resilience.CircuitBreakerConfig{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.WriteUtterance(ctx, audio.Utterance{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Breaker.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", s.Breaker.State())
	}
	if len(inner.Utterances()) != 0 {
		t.Error("inner sink written with a cancelled context")
	}
}

func TestSink_ClosePassesThrough(t *testing.T) {
	t.Parallel()
	inner := &mock.Sink{CloseErr: errors.New("boom")}
	s := resilience.GuardSink(inner, resilience.CircuitBreakerConfig{})
	if err := s.Close(); err == nil {
		t.Error("Close error not propagated")
	}
	if inner.CallCountClose != 1 {
		t.Errorf("CallCountClose = %d, want 1", inner.CallCountClose)
	}
}
