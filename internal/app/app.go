// Package app wires an audio source, a VAD session and the configured sinks
// into a running capture loop.
//
// New creates the detector session, Run drives capture and detection until
// the source ends, the utterance limit is reached or ctx is cancelled, and
// Shutdown releases everything in order.
//
// For testing, pass the doubles from pkg/audio/mock and
// pkg/provider/vad/mock; metrics can be redirected with WithMetrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultQueueDepth is the number of captured chunks that may wait for the
// detector before capture blocks.
const DefaultQueueDepth = 64

// errLimitReached stops the errgroup once run.max_utterances is hit.
var errLimitReached = errors.New("app: utterance limit reached")

// ErrRunning is returned when Run is called while a previous Run is active.
var ErrRunning = errors.New("app: already running")

// Sink pairs an [audio.Sink] with the configured name used in logs and
// metrics.
type Sink struct {
	Name string
	audio.Sink
}

// App owns the source, the detector session and the sinks.
type App struct {
	cfg     *config.Config
	source  audio.Source
	session vad.SessionHandle
	sinks   []Sink
	metrics *observe.Metrics

	chunkDur   time.Duration
	queueDepth int

	running    atomic.Bool
	calibrated atomic.Bool
	sourceOpen atomic.Bool
	emitted    atomic.Int64

	// closeSource closes the source at most once, from Run on cancellation
	// or from Shutdown.
	closeSource func() error

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithQueueDepth sets the capture queue length. Values below 1 are ignored.
func WithQueueDepth(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.queueDepth = n
		}
	}
}

// New opens a detector session on engine using cfg.Detector. The app takes
// ownership of source and sinks: they are closed by Shutdown, or immediately
// when New fails.
func New(cfg *config.Config, engine vad.Engine, source audio.Source, sinks []Sink, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		source:     source,
		sinks:      sinks,
		queueDepth: DefaultQueueDepth,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	vcfg := cfg.Detector.VAD()
	sess, err := engine.NewSession(vcfg)
	if err != nil {
		err = fmt.Errorf("app: new vad session: %w", err)
		if cerr := source.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		return nil, err
	}
	a.session = sess

	a.closeSource = sync.OnceValue(func() error {
		a.sourceOpen.Store(false)
		return source.Close()
	})
	// The source goes first so no chunk reaches a closed session.
	a.closers = append(a.closers, a.closeSource, sess.Close)
	for _, s := range sinks {
		a.closers = append(a.closers, s.Close)
	}

	a.chunkDur = vcfg.ChunkDuration()
	a.sourceOpen.Store(true)
	return a, nil
}

// Emitted returns the number of utterances delivered so far.
func (a *App) Emitted() int { return int(a.emitted.Load()) }

// Calibrated reports whether the detector has finished calibration.
func (a *App) Calibrated() bool { return a.calibrated.Load() }

// ReadinessChecks returns the checks that gate /readyz: the source must be
// open and the detector calibrated.
func (a *App) ReadinessChecks() []health.Checker {
	return []health.Checker{
		health.Condition("source", a.sourceOpen.Load, "source closed"),
		health.Condition("detector", a.calibrated.Load, "calibrating"),
	}
}

// Run captures chunks on one goroutine and feeds them to the detector on
// another. It returns nil when the source reaches end of stream, when
// run.max_utterances utterances have been delivered, or when ctx is
// cancelled. Source failures and detector errors are returned wrapped.
// The source is closed when Run stops, which also releases a read that
// would otherwise block forever.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer a.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []byte, a.queueDepth)

	// A source blocked in a read (idle pipe, stdin) only returns once closed.
	stopClose := context.AfterFunc(gctx, func() {
		if err := a.closeSource(); err != nil {
			slog.Warn("source close error", "err", err)
		}
	})

	g.Go(func() error {
		defer close(chunks)
		return a.capture(gctx, chunks)
	})
	g.Go(func() error {
		return a.detect(gctx, chunks)
	})

	slog.Info("app running",
		"sinks", len(a.sinks),
		"chunk", a.chunkDur,
		"max_utterances", a.cfg.Run.MaxUtterances,
	)
	err := g.Wait()
	if !stopClose() {
		// Wait for a close already in flight.
		_ = a.closeSource()
	}
	if errors.Is(err, errLimitReached) {
		slog.Info("utterance limit reached", "utterances", a.Emitted())
		return nil
	}
	return err
}

// capture reads the source until end of stream or cancellation.
func (a *App) capture(ctx context.Context, out chan<- []byte) error {
	for {
		chunk, err := a.source.ReadChunk(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Info("source exhausted")
				a.sourceOpen.Store(false)
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				a.metrics.SourceErrors.Add(ctx, 1)
				return fmt.Errorf("app: read chunk: %w", err)
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return nil
		}
	}
}

// detect drives the session one chunk at a time, in capture order.
func (a *App) detect(ctx context.Context, in <-chan []byte) error {
	var n int
	for chunk := range in {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		ev, err := a.session.ProcessFrame(chunk)
		if err != nil {
			return fmt.Errorf("app: process chunk %d: %w", n, err)
		}
		a.metrics.RecordChunk(ctx, ev.Type.String(), time.Since(start).Seconds())

		if ev.Type != vad.EventCalibrating {
			if a.calibrated.CompareAndSwap(false, true) {
				slog.Info("detector calibrated", "chunks", n, "noise_floor", ev.NoiseFloor)
			}
			a.metrics.NoiseFloor.Record(ctx, ev.NoiseFloor)
		}
		if ev.Abandoned {
			a.metrics.ExtractionsAbandoned.Add(ctx, 1)
			slog.Debug("extraction abandoned", "chunk", n)
		}
		slog.Debug("chunk classified", "chunk", n, "class", ev.Type, "power_diff", ev.PowerDiff)

		end := time.Duration(n+1) * a.chunkDur
		n++
		if ev.Type != vad.EventUtterance {
			continue
		}
		for a.session.Pending() > 0 {
			data, err := a.session.PopUtterance()
			if err != nil {
				return fmt.Errorf("app: pop utterance: %w", err)
			}
			if err := a.deliver(ctx, data, end); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliver hands one utterance to every sink. Sink failures are logged and
// counted, and sinks paused by a breaker are skipped; only the utterance
// limit stops the loop.
func (a *App) deliver(ctx context.Context, data []byte, end time.Duration) error {
	u := audio.Utterance{
		Seq:        int(a.emitted.Add(1)),
		SampleRate: a.cfg.Detector.SampleRate,
		Data:       data,
		End:        end,
	}

	ctx, span := observe.StartSpan(ctx, "earshot.utterance",
		trace.WithAttributes(
			attribute.Int("utterance.seq", u.Seq),
			attribute.Int("utterance.bytes", len(u.Data)),
			attribute.Float64("utterance.duration_s", u.Duration().Seconds()),
		),
	)
	defer span.End()

	a.metrics.RecordUtterance(ctx, u.Duration().Seconds())
	log := observe.Logger(ctx)
	log.Info("utterance extracted",
		"seq", u.Seq,
		"bytes", len(u.Data),
		"duration", u.Duration(),
		"end", u.End,
	)

	for _, s := range a.sinks {
		status := "ok"
		switch err := s.WriteUtterance(ctx, u); {
		case errors.Is(err, resilience.ErrCircuitOpen):
			status = "skipped"
			log.Debug("sink paused", "sink", s.Name, "seq", u.Seq)
		case err != nil:
			status = "error"
			span.RecordError(err)
			log.Warn("sink write failed", "sink", s.Name, "seq", u.Seq, "err", err)
		}
		a.metrics.RecordSinkWrite(ctx, s.Name, status)
	}

	if limit := a.cfg.Run.MaxUtterances; limit > 0 && u.Seq >= limit {
		return errLimitReached
	}
	return nil
}

// Shutdown closes the source, the detector session and every sink, in that
// order. Remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete", "utterances", a.Emitted())
	})
	return shutdownErr
}
