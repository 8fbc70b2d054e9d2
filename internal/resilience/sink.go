package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Sink guards an [audio.Sink] with a [CircuitBreaker]. While the breaker is
// open WriteUtterance returns [ErrCircuitOpen] without touching the wrapped
// sink.
type Sink struct {
	audio.Sink
	Breaker *CircuitBreaker
}

var _ audio.Sink = (*Sink)(nil)

// GuardSink wraps s with a breaker built from cfg.
func GuardSink(s audio.Sink, cfg CircuitBreakerConfig) *Sink {
	return &Sink{Sink: s, Breaker: NewCircuitBreaker(cfg)}
}

// WriteUtterance forwards u through the breaker. A cancelled context is
// reported without counting as a sink failure.
func (s *Sink) WriteUtterance(ctx context.Context, u audio.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Breaker.Execute(func() error {
		return s.Sink.WriteUtterance(ctx, u)
	})
}
