package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/audiolibrelab/spatialrec/internal/audio"
	"github.com/audiolibrelab/spatialrec/internal/cue"
	"github.com/audiolibrelab/spatialrec/internal/metrics"
)

const (
	DefaultDuration = 2 * time.Second
	DefaultPreRoll  = 200 * time.Millisecond
	countdownTick   = time.Second
)

// Encoder turns accumulated channel buffers into an artifact.
type Encoder interface {
	Encode(left, right [][]float32, sampleRate int) (*audio.Artifact, error)
}

// Persistence stores completed recordings.
type Persistence interface {
	SaveBlob(ctx context.Context, id string, data []byte) error
	SaveMetadata(ctx context.Context, rec *Recording) error
}

// Options wires the controller collaborators. Source is required; nil
// optional collaborators default to no-ops.
type Options struct {
	Source      audio.CaptureSource
	Constraints audio.Constraints
	Encoder     Encoder
	Store       Persistence
	Cue         cue.Player
	Metrics     *metrics.Metrics
	Observer    func(Event)
	Logger      *slog.Logger

	// Duration used when a request does not carry one.
	Duration time.Duration
	// Delay between the end of the cue and the start of capture.
	PreRoll time.Duration
	// Frames per block; zero keeps the probed default.
	BlockSize int
	// Scales the level reported in countdown events only.
	MonitorGain float64
	// "DSK" or "MOB".
	DeviceClass string
	// Countdown interval, one second unless set.
	Tick time.Duration
	// Completed recordings carried over from a previous controller.
	Recordings []*Recording
}

type activeSession struct {
	gen        uint64
	id         string
	req        Request
	capability audio.DeviceCapability

	acc      *audio.Accumulator
	pipe     audio.Pipeline
	started  time.Time
	deadline time.Time
	timer    *time.Timer
	tickStop chan struct{}
	cancel   context.CancelFunc
	buzzer   bool

	done     chan struct{}
	doneOnce sync.Once
	result   *Recording
	err      error

	// closed once Start has returned and dropped any pipeline it made
	released chan struct{}
}

// finish records the outcome and releases waiters. The controller lock
// must be held.
func (s *activeSession) finish(rec *Recording, err error) {
	s.doneOnce.Do(func() {
		s.result = rec
		s.err = err
		close(s.done)
	})
}

// stopTicker ends the countdown. The controller lock must be held.
func (s *activeSession) stopTicker() {
	if s.tickStop == nil {
		return
	}
	select {
	case <-s.tickStop:
	default:
		close(s.tickStop)
	}
}

// Controller drives recording sessions: probe, arm, capture, stop,
// encode and hand off to persistence. One session is active at a time.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	closed     bool
	stream     audio.InputStream
	capability audio.DeviceCapability
	ready      bool
	gen        uint64
	current    *activeSession
	last       *activeSession
	// an arming session cancelled by Stop whose Start has not returned
	releasing  *activeSession
	lastErr    error
	recordings []*Recording
}

// NewController creates a controller in the IDLE state. Probe must
// succeed before Start is accepted.
func NewController(opts Options) *Controller {
	if opts.Encoder == nil {
		opts.Encoder = audio.PCMEncoder{}
	}
	if opts.Cue == nil {
		opts.Cue = cue.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.PreRoll < 0 {
		opts.PreRoll = 0
	}
	if opts.Tick <= 0 {
		opts.Tick = countdownTick
	}
	if opts.MonitorGain <= 0 {
		opts.MonitorGain = 1
	}
	if opts.Constraints == (audio.Constraints{}) {
		opts.Constraints = audio.DefaultConstraints()
	}
	return &Controller{
		opts:       opts,
		logger:     opts.Logger,
		state:      StateIdle,
		recordings: append([]*Recording(nil), opts.Recordings...),
	}
}

// Probe requests the input stream and records the device capability. On
// failure the controller stays IDLE and not ready; Probe may be retried.
func (c *Controller) Probe(ctx context.Context) (audio.DeviceCapability, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.DeviceCapability{}, ErrClosed
	}
	if c.state != StateIdle || c.releasing != nil {
		c.mu.Unlock()
		return audio.DeviceCapability{}, ErrSessionActive
	}
	c.mu.Unlock()

	stream, capability, err := audio.Probe(ctx, c.opts.Source, c.opts.Constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.ready = false
		c.lastErr = err
		return audio.DeviceCapability{}, err
	}

	if c.stream != nil {
		if cerr := c.stream.Close(); cerr != nil {
			c.logger.Warn("Failed to close previous input stream", "error", cerr)
		}
	}
	if c.opts.BlockSize > 0 {
		capability.BlockSize = c.opts.BlockSize
	}
	capability.DeviceClass = c.opts.DeviceClass
	if capability.DeviceClass == "" {
		capability.DeviceClass = "DSK"
	}

	c.stream = stream
	c.capability = capability
	c.ready = true
	c.lastErr = nil
	return capability, nil
}

// Ready reports whether an input stream has been granted.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Capability returns the probed device capability.
func (c *Controller) Capability() audio.DeviceCapability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capability
}

// Start arms a session: cue, pre-roll, pipeline connection. It returns
// once the session is CAPTURING. The session stops by itself when the
// requested duration elapses. If a cancelled session is still tearing
// down its pipeline, Start waits for it first.
func (c *Controller) Start(ctx context.Context, req Request) error {
	c.mu.Lock()
	for c.releasing != nil && !c.closed {
		released := c.releasing.released
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		}
		c.mu.Lock()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.ready || c.stream == nil {
		c.mu.Unlock()
		return ErrNoInputSource
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	if req.Duration <= 0 {
		req.Duration = c.opts.Duration
	}

	armCtx, cancel := context.WithCancel(ctx)
	c.gen++
	sess := &activeSession{
		gen:        c.gen,
		id:         uuid.NewString(),
		req:        req,
		capability: c.capability,
		cancel:     cancel,
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}
	c.current = sess
	c.last = sess
	c.state = StateArming
	stream := c.stream
	c.mu.Unlock()
	defer c.release(sess)
	defer cancel()

	c.logger.Info("Arming recording session",
		"id", sess.id,
		"direction", req.Direction,
		"distance", req.Distance,
		"duration", req.Duration)
	c.emit(Event{Type: EventState, State: StateArming})

	sess.buzzer = c.playCue(armCtx)

	if c.opts.PreRoll > 0 {
		t := time.NewTimer(c.opts.PreRoll)
		select {
		case <-armCtx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	if err := armCtx.Err(); err != nil {
		return c.abortArming(sess, err)
	}

	acc := audio.NewAccumulator()
	c.mu.Lock()
	sess.acc = acc
	c.mu.Unlock()
	pipe, err := stream.Connect(armCtx, audio.PipelineConfig{
		BlockSize: sess.capability.BlockSize,
		Channels:  sess.capability.ChannelCount,
	}, func(left, right []float32) {
		acc.OnBlock(left, right)
		c.opts.Metrics.RecordBlock(len(left), acc.Peak())
	})
	if err != nil {
		err = fmt.Errorf("failed to connect capture pipeline: %w", err)
		c.fail(sess, "connect", err)
		return err
	}

	c.mu.Lock()
	if c.current != sess || c.state != StateArming {
		c.mu.Unlock()
		if cerr := pipe.Close(); cerr != nil {
			c.logger.Warn("Failed to close pipeline of cancelled session", "error", cerr)
		}
		acc.Release()
		return ErrSessionCancelled
	}
	sess.pipe = pipe
	sess.started = time.Now()
	sess.deadline = sess.started.Add(req.Duration)
	sess.tickStop = make(chan struct{})
	gen := sess.gen
	sess.timer = time.AfterFunc(req.Duration, func() {
		c.expire(gen)
	})
	c.state = StateCapturing
	c.mu.Unlock()

	go c.countdown(sess)

	c.opts.Metrics.RecordSessionStarted()
	c.logger.Info("Recording started",
		"id", sess.id,
		"sample_rate", sess.capability.SampleRate,
		"channels", sess.capability.ChannelCount,
		"mic", sess.capability.MicType())
	c.emit(Event{Type: EventState, State: StateCapturing, Remaining: req.Duration, Countdown: FormatCountdown(req.Duration)})
	return nil
}

func (c *Controller) release(sess *activeSession) {
	c.mu.Lock()
	close(sess.released)
	if c.releasing == sess {
		c.releasing = nil
	}
	c.mu.Unlock()
}

// playCue plays the cue and reports whether it was heard. Cue failures
// do not abort the session.
func (c *Controller) playCue(ctx context.Context) bool {
	if _, nop := c.opts.Cue.(cue.Nop); nop {
		return false
	}
	if err := c.opts.Cue.PlayCue(ctx); err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("Cue tone failed", "error", err)
		}
		return false
	}
	return true
}

func (c *Controller) abortArming(sess *activeSession, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == sess {
		// cancelled by the caller's context rather than Stop
		c.current = nil
		c.state = StateIdle
		sess.finish(nil, fmt.Errorf("%w: %v", ErrSessionCancelled, cause))
	}
	return ErrSessionCancelled
}

// Stop ends the active session. During CAPTURING it detaches the
// pipeline, encodes and persists, and returns the recording. During
// ARMING it cancels the session. Otherwise it is a no-op returning
// (nil, nil).
func (c *Controller) Stop(ctx context.Context) (*Recording, error) {
	return c.stop(ctx, 0)
}

func (c *Controller) expire(gen uint64) {
	if _, err := c.stop(context.Background(), gen); err != nil {
		c.logger.Error("Timed stop failed", "error", err)
	}
}

// stop finalizes the current session. A non-zero gen only stops the
// session of that generation.
func (c *Controller) stop(ctx context.Context, gen uint64) (*Recording, error) {
	c.mu.Lock()
	sess := c.current
	if sess == nil || (gen != 0 && sess.gen != gen) {
		c.mu.Unlock()
		return nil, nil
	}

	switch c.state {
	case StateArming:
		if gen != 0 {
			c.mu.Unlock()
			return nil, nil
		}
		sess.cancel()
		c.current = nil
		c.releasing = sess
		c.state = StateIdle
		sess.finish(nil, ErrSessionCancelled)
		c.mu.Unlock()
		c.logger.Info("Recording session cancelled while arming", "id", sess.id)
		c.emit(Event{Type: EventState, State: StateIdle})
		return nil, nil
	case StateCapturing:
	default:
		c.mu.Unlock()
		return nil, nil
	}

	c.state = StateStopping
	sess.timer.Stop()
	sess.stopTicker()
	c.mu.Unlock()

	c.emit(Event{Type: EventState, State: StateStopping})
	return c.finalize(ctx, sess)
}

func (c *Controller) finalize(ctx context.Context, sess *activeSession) (*Recording, error) {
	if err := sess.pipe.Close(); err != nil {
		c.logger.Warn("Pipeline did not close cleanly", "id", sess.id, "error", err)
	}
	sess.acc.Seal()

	c.setState(sess, StateEncoding)
	c.emit(Event{Type: EventState, State: StateEncoding})

	left, right := sess.acc.Buffers()
	start := time.Now()
	art, err := c.opts.Encoder.Encode(left, right, sess.capability.SampleRate)
	c.opts.Metrics.RecordEncode(time.Since(start))
	sess.acc.Release()
	if err != nil {
		err = fmt.Errorf("failed to encode recording: %w", err)
		c.fail(sess, "encode", err)
		return nil, err
	}

	rec := newRecording(sess.id, sess.req, sess.capability, art, sess.started, sess.buzzer)

	if c.opts.Store != nil {
		if perr := c.persist(ctx, rec); perr != nil {
			rec.PersistError = perr.Error()
			c.opts.Metrics.RecordPersistError()
			c.logger.Warn("Recording kept in memory only", "id", rec.ID, "error", perr)
		}
	}

	c.mu.Lock()
	if c.current != sess {
		// closed while encoding or persisting
		c.mu.Unlock()
		c.logger.Warn("Controller closed before the recording completed", "id", rec.ID)
		return rec, nil
	}
	c.state = StateComplete
	c.recordings = append(c.recordings, rec)
	c.mu.Unlock()

	c.opts.Metrics.RecordSessionCompleted(art.Duration, art.Size())
	c.logger.Info("Recording complete",
		"id", rec.ID,
		"filename", rec.Filename,
		"samples", rec.ActualSamples,
		"size", rec.Size)
	c.emit(Event{Type: EventComplete, State: StateComplete, Recording: rec})

	c.mu.Lock()
	if c.current == sess {
		c.current = nil
		c.state = StateIdle
	}
	sess.finish(rec, nil)
	c.mu.Unlock()

	c.emit(Event{Type: EventState, State: StateIdle})
	return rec, nil
}

func (c *Controller) persist(ctx context.Context, rec *Recording) error {
	if err := c.opts.Store.SaveBlob(ctx, rec.ID, rec.Data); err != nil {
		return &PersistenceError{RecordingID: rec.ID, Err: err}
	}
	if err := c.opts.Store.SaveMetadata(ctx, rec); err != nil {
		return &PersistenceError{RecordingID: rec.ID, Err: err}
	}
	return nil
}

// fail moves the session through FAILED back to IDLE, tearing down
// whatever it still holds.
func (c *Controller) fail(sess *activeSession, stage string, cause error) {
	c.mu.Lock()
	if c.current != sess {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.mu.Unlock()

	c.emit(Event{Type: EventFailed, State: StateFailed, Err: cause})

	if err := c.teardown(sess); err != nil {
		c.logger.Warn("Session teardown incomplete", "id", sess.id, "error", err)
	}
	c.opts.Metrics.RecordSessionFailed(stage)
	c.logger.Error("Recording session failed", "id", sess.id, "stage", stage, "error", cause)

	c.mu.Lock()
	c.current = nil
	c.state = StateIdle
	c.lastErr = cause
	sess.finish(nil, cause)
	c.mu.Unlock()

	c.emit(Event{Type: EventState, State: StateIdle})
}

func (c *Controller) teardown(sess *activeSession) error {
	var result *multierror.Error
	if sess.cancel != nil {
		sess.cancel()
	}
	c.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.stopTicker()
	pipe := sess.pipe
	acc := sess.acc
	c.mu.Unlock()

	if pipe != nil {
		if err := pipe.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("pipeline: %w", err))
		}
	}
	if acc != nil {
		acc.Release()
	}
	return result.ErrorOrNil()
}

func (c *Controller) setState(sess *activeSession, state State) {
	c.mu.Lock()
	if c.current == sess {
		c.state = state
	}
	c.mu.Unlock()
}

func (c *Controller) countdown(sess *activeSession) {
	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-sess.tickStop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			if c.current != sess || c.state != StateCapturing {
				c.mu.Unlock()
				return
			}
			remaining := sess.deadline.Sub(now)
			c.mu.Unlock()

			level := float64(sess.acc.Peak()) * c.opts.MonitorGain
			if level > 1 {
				level = 1
			}
			c.emit(Event{
				Type:      EventCountdown,
				State:     StateCapturing,
				Remaining: remaining,
				Countdown: FormatCountdown(remaining),
				Level:     level,
			})
		}
	}
}

func (c *Controller) emit(ev Event) {
	if c.opts.Observer != nil {
		c.opts.Observer(ev)
	}
}

// Wait blocks until the current or most recent session has finished and
// returns its outcome.
func (c *Controller) Wait(ctx context.Context) (*Recording, error) {
	c.mu.Lock()
	sess := c.last
	c.mu.Unlock()
	if sess == nil {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sess.done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return sess.result, sess.err
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      c.state,
		Ready:      c.ready,
		Capability: c.capability,
		Recordings: len(c.recordings),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if sess := c.current; sess != nil {
		info := &SessionInfo{
			Request:    sess.req,
			StartTime:  sess.started,
			SampleRate: sess.capability.SampleRate,
			Channels:   sess.capability.ChannelCount,
			Remaining:  FormatCountdown(sess.req.Duration),
		}
		if sess.acc != nil {
			info.Samples = sess.acc.Samples()
		}
		if c.state == StateCapturing {
			info.Remaining = FormatCountdown(time.Until(sess.deadline))
		}
		st.Session = info
	}
	return st
}

// Recordings returns the recordings completed by this controller, oldest
// first.
func (c *Controller) Recordings() []*Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Recording, len(c.recordings))
	copy(out, c.recordings)
	return out
}

// Forget drops a recording from the in-memory list.
func (c *Controller) Forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, rec := range c.recordings {
		if rec.ID == id {
			c.recordings = append(c.recordings[:i], c.recordings[i+1:]...)
			return true
		}
	}
	return false
}

// ForgetAll empties the in-memory list.
func (c *Controller) ForgetAll() {
	c.mu.Lock()
	c.recordings = nil
	c.mu.Unlock()
}

// Close tears down any active session and releases the input stream.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.current
	if sess != nil {
		c.current = nil
		c.state = StateIdle
		sess.finish(nil, ErrClosed)
	}
	stream := c.stream
	c.stream = nil
	c.ready = false
	c.mu.Unlock()

	var result *multierror.Error
	if sess != nil {
		if err := c.teardown(sess); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("input stream: %w", err))
		}
	}
	return result.ErrorOrNil()
}
