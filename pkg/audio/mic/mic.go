// Package mic captures microphone audio through PortAudio as an
// [audio.Source].
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrNoDevice is returned when no input device matches the request.
var ErrNoDevice = errors.New("mic: no matching input device")

// Options selects the capture device and format.
type Options struct {
	SampleRate int
	ChunkSize  int

	// Device is a case-insensitive substring of the device name. Empty
	// selects the system default input.
	Device string
}

// Mic is a blocking mono 16-bit capture stream. Each ReadChunk returns one
// PortAudio buffer of exactly ChunkSize samples.
type Mic struct {
	stream    *portaudio.Stream
	buf       []int16
	device    string
	closeOnce sync.Once
	closeErr  error
}

var _ audio.Source = (*Mic)(nil)

// Open initialises PortAudio and starts a capture stream.
func Open(opts Options) (*Mic, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: initialize portaudio: %w", err)
	}

	dev, err := selectDevice(opts.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: opts.ChunkSize,
	}
	buf := make([]int16, opts.ChunkSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: start %q: %w", dev.Name, err)
	}

	slog.Info("mic: capture started",
		"device", dev.Name,
		"sample_rate", opts.SampleRate,
		"chunk_size", opts.ChunkSize,
	)
	return &Mic{stream: stream, buf: buf, device: dev.Name}, nil
}

func selectDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("mic: default input: %w", err)
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("mic: list devices: %w", err)
	}
	return matchDevice(devs, name)
}

// matchDevice returns the first input-capable device whose name contains
// name, ignoring case.
func matchDevice(devs []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	want := strings.ToLower(name)
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// Device returns the name of the capture device.
func (m *Mic) Device() string { return m.device }

// ReadChunk blocks for one buffer. Input overflows are logged and the data
// is still returned, since the stream stays contiguous from the caller's
// point of view.
func (m *Mic) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("mic: read: %w", err)
		}
		slog.Warn("mic: input overflowed, samples were dropped", "device", m.device)
	}
	return audio.EncodePCM16(m.buf), nil
}

// Close stops the stream and terminates PortAudio. Safe to call more than
// once; must not race with ReadChunk.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = errors.Join(m.stream.Stop(), m.stream.Close(), portaudio.Terminate())
	})
	return m.closeErr
}
