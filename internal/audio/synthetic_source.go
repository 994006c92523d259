package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// SyntheticSource generates sine tones in real time. It stands in for a
// microphone in demos and on machines without a sound server.
type SyntheticSource struct {
	leftFreq   float64
	rightFreq  float64
	amplitude  float64
	channels   int
	sampleRate int
	period     time.Duration
	logger     *slog.Logger
}

// SyntheticOption configures a SyntheticSource.
type SyntheticOption func(*SyntheticSource)

// WithTones sets the left and right frequencies in Hz. Zero is silence.
func WithTones(left, right float64) SyntheticOption {
	return func(s *SyntheticSource) {
		s.leftFreq = left
		s.rightFreq = right
	}
}

// WithAmplitude sets the peak amplitude, clamped to [0, 1].
func WithAmplitude(amplitude float64) SyntheticOption {
	return func(s *SyntheticSource) {
		s.amplitude = math.Max(0, math.Min(1, amplitude))
	}
}

// WithMono makes the source report a single channel.
func WithMono() SyntheticOption {
	return func(s *SyntheticSource) {
		s.channels = 1
	}
}

// WithNativeRate sets the rate used when the request has no sample rate.
func WithNativeRate(sampleRate int) SyntheticOption {
	return func(s *SyntheticSource) {
		s.sampleRate = sampleRate
	}
}

// WithPeriod sets how often a chunk of frames is produced.
func WithPeriod(d time.Duration) SyntheticOption {
	return func(s *SyntheticSource) {
		s.period = d
	}
}

// NewSyntheticSource creates a synthetic source producing a 440/660 Hz
// stereo pair by default.
func NewSyntheticSource(logger *slog.Logger, opts ...SyntheticOption) *SyntheticSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SyntheticSource{
		leftFreq:   440,
		rightFreq:  660,
		amplitude:  0.5,
		channels:   2,
		sampleRate: 48000,
		period:     20 * time.Millisecond,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ CaptureSource = (*SyntheticSource)(nil)

// Name returns the backend name.
func (s *SyntheticSource) Name() string {
	return string(BackendTypeSynthetic)
}

// Open grants a stream immediately.
func (s *SyntheticSource) Open(ctx context.Context, c Constraints) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channels := s.channels
	if c.ChannelCount > 0 && channels > c.ChannelCount {
		channels = c.ChannelCount
	}
	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.sampleRate
	}

	return &syntheticStream{
		src: s,
		settings: StreamSettings{
			ChannelCount: channels,
			SampleRate:   sampleRate,
			Latency:      c.Latency,
			DeviceName:   fmt.Sprintf("synthetic %.0f/%.0f Hz", s.leftFreq, s.rightFreq),
		},
	}, nil
}

type syntheticStream struct {
	src      *SyntheticSource
	settings StreamSettings

	mu     sync.Mutex
	closed bool
	active []*syntheticPipeline
}

func (st *syntheticStream) Settings() StreamSettings {
	return st.settings
}

func (st *syntheticStream) Connect(ctx context.Context, cfg PipelineConfig, h BlockHandler) (Pipeline, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, fmt.Errorf("input stream is closed")
	}

	channels := cfg.Channels
	if channels <= 0 || channels > st.settings.ChannelCount {
		channels = st.settings.ChannelCount
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	splitter, err := NewSplitter(channels, blockSize, h)
	if err != nil {
		return nil, err
	}

	p := &syntheticPipeline{
		src:        st.src,
		channels:   channels,
		sampleRate: st.settings.SampleRate,
		splitter:   splitter,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	st.active = append(st.active, p)
	go p.generateLoop()

	st.src.logger.Debug("synthetic pipeline connected", "channels", channels, "block_size", blockSize, "sample_rate", p.sampleRate)
	return p, nil
}

func (st *syntheticStream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	active := st.active
	st.active = nil
	st.mu.Unlock()

	for _, p := range active {
		p.Close()
	}
	return nil
}

type syntheticPipeline struct {
	src        *SyntheticSource
	channels   int
	sampleRate int
	splitter   *Splitter
	frame      int64

	once   sync.Once
	stopCh chan struct{}
	doneCh chan struct{}
}

func (p *syntheticPipeline) generateLoop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.src.period)
	defer ticker.Stop()

	frames := int(int64(p.sampleRate) * int64(p.src.period) / int64(time.Second))
	if frames < 1 {
		frames = 1
	}
	chunk := make([]float32, frames*p.channels)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fill(chunk)
			p.splitter.Write(chunk)
		}
	}
}

func (p *syntheticPipeline) fill(chunk []float32) {
	rate := float64(p.sampleRate)
	for i := 0; i < len(chunk)/p.channels; i++ {
		t := float64(p.frame) / rate
		chunk[i*p.channels] = float32(p.src.amplitude * math.Sin(2*math.Pi*p.src.leftFreq*t))
		if p.channels > 1 {
			chunk[i*p.channels+1] = float32(p.src.amplitude * math.Sin(2*math.Pi*p.src.rightFreq*t))
		}
		p.frame++
	}
}

// Close stops generation and waits for the loop to exit, so no block is
// delivered after it returns.
func (p *syntheticPipeline) Close() error {
	p.once.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
	return nil
}
