package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Source is an opened audio input yielding fixed-size frames of mono 16-bit
// little-endian PCM. ReadFrame blocks until a full frame is available.
type Source interface {
	ReadFrame(frame []byte) error
	Close() error
}

// Opener opens a Source for the given capture configuration. The session
// controller depends on this rather than PortAudio directly so tests can
// substitute scripted sources.
type Opener func(cfg config.CaptureConfig) (Source, error)

type portaudioSource struct {
	stream *portaudio.Stream
	in     []int16
	once   sync.Once
}

// Open opens the configured input device and starts the stream. Index -1
// selects the system default input.
func Open(cfg config.CaptureConfig) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	dev, err := selectDevice(cfg.DeviceIndex)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	in := make([]int16, cfg.FrameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameSize,
	}
	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portaudioSource{stream: stream, in: in}, nil
}

func selectDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if index >= len(infos) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(infos))
	}
	dev := infos[index]
	if dev.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("device %q has no input channels", dev.Name)
	}
	return dev, nil
}

func (s *portaudioSource) ReadFrame(frame []byte) error {
	if len(frame) != len(s.in)*2 {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(frame), len(s.in)*2)
	}
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("read input stream: %w", err)
	}
	for i, sample := range s.in {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return nil
}

// Close stops and releases the stream. Safe to call once per source on every
// capture exit path.
func (s *portaudioSource) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stream.Stop()
		err = s.stream.Close()
		portaudio.Terminate()
	})
	return err
}
