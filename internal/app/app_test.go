package app_test

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad/spectral"
)

// testConfig returns the default detector settings with a 400ms pause.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Detector.Pause = 400 * time.Millisecond
	cfg.Sinks = nil
	return cfg
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums every data point of an int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func chunks(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, 2*size)
		out[i][0] = byte(i)
	}
	return out
}

func events(types ...vad.EventType) []vad.Event {
	out := make([]vad.Event, len(types))
	for i, t := range types {
		out[i] = vad.Event{Type: t}
	}
	return out
}

func TestNew_OpensSessionWithDetectorConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m, _ := testMetrics(t)
	eng := &vadmock.Engine{}

	if _, err := app.New(cfg, eng, &audiomock.Source{}, nil, app.WithMetrics(m)); err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(eng.NewSessionCalls) != 1 {
		t.Fatalf("NewSession called %d times, want 1", len(eng.NewSessionCalls))
	}
	if got, want := eng.NewSessionCalls[0].Cfg, cfg.Detector.VAD(); got != want {
		t.Errorf("session config = %+v, want %+v", got, want)
	}
}

func TestNew_SessionErrorClosesResources(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	boom := errors.New("bad config")
	src := &audiomock.Source{}
	sink := &audiomock.Sink{}

	_, err := app.New(testConfig(), &vadmock.Engine{NewSessionErr: boom}, src,
		[]app.Sink{{Name: "wav", Sink: sink}}, app.WithMetrics(m))
	if !errors.Is(err, boom) {
		t.Fatalf("New error = %v, want %v", err, boom)
	}
	if src.CallCountClose != 1 || sink.CallCountClose != 1 {
		t.Errorf("closes: source %d, sink %d, want 1 each", src.CallCountClose, sink.CallCountClose)
	}
}

func TestRun_DeliversUtterancesToEverySink(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m, reader := testMetrics(t)
	size := cfg.Detector.ChunkSize

	first, second := []byte{1, 2, 3, 4}, []byte{5, 6}
	sess := &vadmock.Session{
		Events: events(
			vad.EventCalibrating, vad.EventCalibrating,
			vad.EventSpeech, vad.EventUtterance,
			vad.EventSilence, vad.EventUtterance,
		),
		Utterances: [][]byte{first, second},
	}
	src := &audiomock.Source{Chunks: chunks(8, size)}
	wavSink, wsSink := &audiomock.Sink{}, &audiomock.Sink{WriteErr: errors.New("no subscribers")}

	a, err := app.New(cfg, &vadmock.Engine{Session: sess}, src,
		[]app.Sink{{Name: "wav", Sink: wavSink}, {Name: "websocket", Sink: wsSink}},
		app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sess.Chunks) != 8 {
		t.Errorf("processed %d chunks, want 8", len(sess.Chunks))
	}
	for i, c := range sess.Chunks {
		if c[0] != byte(i) {
			t.Fatalf("chunk %d out of order (marker %d)", i, c[0])
		}
	}

	got := wavSink.Utterances()
	if len(got) != 2 {
		t.Fatalf("wav sink got %d utterances, want 2", len(got))
	}
	chunkDur := cfg.Detector.VAD().ChunkDuration()
	want := []audio.Utterance{
		{Seq: 1, SampleRate: 16000, Data: first, End: 4 * chunkDur},
		{Seq: 2, SampleRate: 16000, Data: second, End: 6 * chunkDur},
	}
	for i := range want {
		if got[i].Seq != want[i].Seq || got[i].SampleRate != want[i].SampleRate ||
			string(got[i].Data) != string(want[i].Data) || got[i].End != want[i].End {
			t.Errorf("utterance %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(wsSink.Utterances()) != 2 {
		t.Errorf("failing sink still received %d utterances, want 2", len(wsSink.Utterances()))
	}

	if !a.Calibrated() {
		t.Error("Calibrated() = false after non-calibrating events")
	}
	if a.Emitted() != 2 {
		t.Errorf("Emitted() = %d, want 2", a.Emitted())
	}
	if got := counterValue(t, reader, "earshot.sink.writes"); got != 4 {
		t.Errorf("sink writes = %d, want 4", got)
	}
	if got := counterValue(t, reader, "earshot.detector.chunks"); got != 8 {
		t.Errorf("chunks metric = %d, want 8", got)
	}
}

func TestRun_PausedSinkIsSkipped(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m, reader := testMetrics(t)

	sess := &vadmock.Session{
		Events:     events(vad.EventUtterance, vad.EventUtterance, vad.EventUtterance),
		Utterances: [][]byte{{1}, {2}, {3}},
	}
	inner := &audiomock.Sink{WriteErr: errors.New("disk full")}
	guarded := resilience.GuardSink(inner, resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	a, err := app.New(cfg, &vadmock.Engine{Session: sess}, &audiomock.Source{Chunks: chunks(3, cfg.Detector.ChunkSize)},
		[]app.Sink{{Name: "wav", Sink: guarded}}, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(inner.Utterances()); got != 1 {
		t.Errorf("inner sink written %d times, want 1", got)
	}
	byStatus := sinkWritesByStatus(t, reader)
	if byStatus["error"] != 1 || byStatus["skipped"] != 2 {
		t.Errorf("sink writes by status = %v, want error:1 skipped:2", byStatus)
	}
}

// sinkWritesByStatus groups earshot.sink.writes by its status attribute.
func sinkWritesByStatus(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "earshot.sink.writes" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("status")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestRun_StopsAtMaxUtterances(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Run.MaxUtterances = 1
	m, _ := testMetrics(t)

	sess := &vadmock.Session{
		Events:     events(vad.EventSpeech, vad.EventUtterance, vad.EventSpeech, vad.EventUtterance),
		Utterances: [][]byte{{1, 1}, {2, 2}},
	}
	src := &audiomock.Source{Chunks: chunks(2, cfg.Detector.ChunkSize), Block: true}
	sink := &audiomock.Sink{}

	a, err := app.New(cfg, &vadmock.Engine{Session: sess}, src, []app.Sink{{Name: "wav", Sink: sink}}, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after the utterance limit")
	}
	if n := len(sink.Utterances()); n != 1 {
		t.Errorf("sink got %d utterances, want 1", n)
	}
}

func TestRun_CancelReturnsNil(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	src := &audiomock.Source{Block: true}

	a, err := app.New(testConfig(), &vadmock.Engine{}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CancelUnblocksIdlePipe(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m, _ := testMetrics(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	src := audio.NewReaderSource(pr, audio.Format{SampleRate: 16000, Channels: 1}, 16000, cfg.Detector.ChunkSize)

	a, err := app.New(cfg, &vadmock.Engine{}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancel")
	}
	if _, err := pw.Write([]byte{0, 0}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("pipe write after Run = %v, want ErrClosedPipe (reader closed)", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_ThenShutdownClosesSourceOnce(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	src := &audiomock.Source{Chunks: chunks(2, 4)}

	a, err := app.New(testConfig(), &vadmock.Engine{}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := src.CloseCount(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

func TestRun_SourceErrorIsReturned(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	boom := errors.New("device unplugged")
	src := &audiomock.Source{ReadErr: boom}

	a, err := app.New(testConfig(), &vadmock.Engine{}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
	if got := counterValue(t, reader, "earshot.source.errors"); got != 1 {
		t.Errorf("source errors = %d, want 1", got)
	}
}

func TestRun_DetectorErrorIsReturned(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	sess := &vadmock.Session{Err: vad.ErrChunkSize, ErrAt: 2}
	src := &audiomock.Source{Chunks: chunks(5, 4)}

	a, err := app.New(testConfig(), &vadmock.Engine{Session: sess}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); !errors.Is(err, vad.ErrChunkSize) {
		t.Errorf("Run error = %v, want ErrChunkSize", err)
	}
	if len(sess.Chunks) != 3 {
		t.Errorf("processed %d chunks, want 3 (stop at the failing one)", len(sess.Chunks))
	}
}

func TestRun_CountsAbandonedExtractions(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	sess := &vadmock.Session{Events: []vad.Event{
		{Type: vad.EventSilence, Abandoned: true},
		{Type: vad.EventSilence, Abandoned: true},
		{Type: vad.EventSilence},
	}}
	src := &audiomock.Source{Chunks: chunks(3, 4)}

	a, err := app.New(testConfig(), &vadmock.Engine{Session: sess}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := counterValue(t, reader, "earshot.detector.extractions_abandoned"); got != 2 {
		t.Errorf("abandoned = %d, want 2", got)
	}
}

func TestReadinessChecks(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	sess := &vadmock.Session{Events: events(vad.EventCalibrating, vad.EventSilence)}
	src := &audiomock.Source{Chunks: chunks(2, 4)}

	a, err := app.New(testConfig(), &vadmock.Engine{Session: sess}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status := func() map[string]error {
		out := map[string]error{}
		for _, c := range a.ReadinessChecks() {
			out[c.Name] = c.Check(context.Background())
		}
		return out
	}

	before := status()
	if before["source"] != nil || before["detector"] == nil {
		t.Errorf("before Run: %v, want source ok and detector calibrating", before)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after := status()
	if after["detector"] != nil {
		t.Errorf("detector check after calibration = %v", after["detector"])
	}
	if after["source"] == nil {
		t.Error("source check passed after end of stream")
	}
}

func TestShutdown_ClosesInOrderOnce(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	sess := &vadmock.Session{}
	src := &audiomock.Source{}
	sink := &audiomock.Sink{CloseErr: errors.New("flush failed")}

	a, err := app.New(testConfig(), &vadmock.Engine{Session: sess}, src, []app.Sink{{Name: "wav", Sink: sink}}, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if src.CallCountClose != 1 || sess.Closes != 1 || sink.CallCountClose != 1 {
		t.Errorf("closes: source %d, session %d, sink %d, want 1 each",
			src.CallCountClose, sess.Closes, sink.CallCountClose)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	src := &audiomock.Source{}

	a, err := app.New(testConfig(), &vadmock.Engine{}, src, nil, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown error = %v, want context.Canceled", err)
	}
	if src.CallCountClose != 0 {
		t.Error("source closed after the deadline passed")
	}
}

// TestRun_SpectralEndToEnd runs the real detector over a synthetic
// silence/tone/silence stream.
func TestRun_SpectralEndToEnd(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m, _ := testMetrics(t)
	size := cfg.Detector.ChunkSize

	var stream [][]byte
	for range 20 {
		stream = append(stream, make([]byte, 2*size))
	}
	for c := range 20 {
		stream = append(stream, tone(c*size, size, 500, 16384, cfg.Detector.SampleRate))
	}
	for range 10 {
		stream = append(stream, make([]byte, 2*size))
	}

	sink := &audiomock.Sink{}
	a, err := app.New(cfg, spectral.Engine{}, &audiomock.Source{Chunks: stream},
		[]app.Sink{{Name: "wav", Sink: sink}}, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.Utterances()
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	total := len(stream) * 2 * size
	if n := len(got[0].Data); n == 0 || n >= total || n%(2*size) != 0 {
		t.Errorf("utterance is %d bytes, want whole chunks in (0, %d)", n, total)
	}
}

// tone renders size samples of a sine wave starting at sample offset off.
func tone(off, size int, freq, amp float64, rate int) []byte {
	out := make([]byte, 2*size)
	for i := range size {
		v := int16(amp * math.Sin(2*math.Pi*freq*float64(off+i)/float64(rate)))
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
