package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const pulseApplicationName = "spatialrec"

// PulseSource captures from the default PulseAudio (or pipewire-pulse)
// source through the native protocol client.
type PulseSource struct {
	// SourceName selects a source by name; empty means the default source.
	SourceName string
}

var _ CaptureSource = (*PulseSource)(nil)

// NewPulseSource creates a pulse capture source.
func NewPulseSource(sourceName string) *PulseSource {
	return &PulseSource{SourceName: sourceName}
}

// Name returns the backend name.
func (p *PulseSource) Name() string {
	return string(BackendTypePulse)
}

// Open connects to the server and resolves the input device.
func (p *PulseSource) Open(ctx context.Context, c Constraints) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseApplicationName))
	if err != nil {
		return nil, &AccessDeniedError{Backend: p.Name(), Err: fmt.Errorf("unable to open a client to Pulse: %w", err)}
	}

	source, err := p.resolveSource(client)
	if err != nil {
		client.Close()
		return nil, &AccessDeniedError{Backend: p.Name(), Err: err}
	}

	channels := len(source.Channels())
	if c.ChannelCount > 0 && channels > c.ChannelCount {
		channels = c.ChannelCount
	}
	if channels > 2 {
		channels = 2
	}
	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = source.SampleRate()
	}

	slog.Debug("Pulse source resolved", "source", source.Name(), "native_channels", len(source.Channels()), "native_rate", source.SampleRate())

	return &pulseInputStream{
		client: client,
		source: source,
		settings: StreamSettings{
			ChannelCount: channels,
			SampleRate:   sampleRate,
			Latency:      c.Latency,
			DeviceName:   source.Name(),
		},
	}, nil
}

func (p *PulseSource) resolveSource(client *pulse.Client) (*pulse.Source, error) {
	if p.SourceName == "" {
		source, err := client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("unable to get the default source: %w", err)
		}
		return source, nil
	}

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("unable to list sources: %w", err)
	}
	for _, source := range sources {
		if source.Name() == p.SourceName || source.ID() == p.SourceName {
			return source, nil
		}
	}
	return nil, fmt.Errorf("source not found: %s", p.SourceName)
}

// ListPulseSources returns the names of the available input sources.
func ListPulseSources() ([]string, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseApplicationName))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("unable to list sources: %w", err)
	}
	names := make([]string, 0, len(sources))
	for _, source := range sources {
		names = append(names, source.Name())
	}
	return names, nil
}

type pulseInputStream struct {
	client   *pulse.Client
	source   *pulse.Source
	settings StreamSettings

	mu     sync.Mutex
	closed bool
}

func (s *pulseInputStream) Settings() StreamSettings {
	return s.settings
}

func (s *pulseInputStream) Connect(ctx context.Context, cfg PipelineConfig, h BlockHandler) (Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("input stream is closed")
	}

	channels := cfg.Channels
	if channels <= 0 || channels > s.settings.ChannelCount {
		channels = s.settings.ChannelCount
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	pipe := &pulsePipeline{}
	splitter, err := NewSplitter(channels, blockSize, func(left, right []float32) {
		pipe.deliver(h, left, right)
	})
	if err != nil {
		return nil, err
	}

	chanMap := proto.ChannelMap{proto.ChannelMono}
	if channels == 2 {
		chanMap = proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}
	}

	writer := pulse.Float32Writer(func(p []float32) (int, error) {
		splitter.Write(p)
		return len(p), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(s.settings.SampleRate),
		pulse.RecordChannels(chanMap),
		pulse.RecordSource(s.source),
	}
	if s.settings.Latency > 0 {
		opts = append(opts, pulse.RecordLatency(s.settings.Latency))
	}

	stream, err := s.client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a recording: %w", err)
	}
	stream.Start()
	if err := stream.Error(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("an error occurred during recording: %w", err)
	}

	pipe.stream = stream
	slog.Debug("Pulse pipeline connected", "channels", channels, "block_size", blockSize, "sample_rate", s.settings.SampleRate)
	return pipe, nil
}

func (s *pulseInputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	return nil
}

type pulsePipeline struct {
	stream *pulse.RecordStream

	mu       sync.Mutex
	detached bool
}

func (p *pulsePipeline) deliver(h BlockHandler, left, right []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return
	}
	h(left, right)
}

func (p *pulsePipeline) Close() error {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return nil
	}
	p.detached = true
	p.mu.Unlock()

	var result *multierror.Error
	if p.stream != nil {
		p.stream.Stop()
		if err := p.stream.Error(); err != nil {
			result = multierror.Append(result, fmt.Errorf("record stream: %w", err))
		}
		p.stream.Close()
	}
	return result.ErrorOrNil()
}
