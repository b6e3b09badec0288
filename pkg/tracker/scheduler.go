//Package tracker drives one pose detection per rendered video frame.
//
//A Session polls its Video once per tick. A tick detects only when the video is playing and its playback position
//moved to a new, strictly positive value since the previous tick, so a paused or stalled video costs no detection
//and the detection rate never exceeds the tick rate. Converted positions are delivered in playback order on the
//session's Frames channel, which is closed when the video ends or the session is stopped.
package tracker

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-hclog"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//DefaultInterval is one tick per frame of a 60Hz display
const DefaultInterval = time.Second / 60

//Video is the playback state a session polls
type Video interface {
	//CurrentTime is the playback position. It does not decrease while the video plays.
	CurrentTime() time.Duration
	Paused() bool
	Ended() bool
	//Frame decodes the frame at the current playback position
	Frame() (image.Image, error)
}

//FrameDetector is the landmark source used for video frames
type FrameDetector interface {
	Initialize(ctx context.Context) error
	DetectVideoFrame(ctx context.Context, frame image.Image) (*pose.Result, error)
}

//Frame is one tracked video frame
type Frame struct {
	Timestamp time.Duration          `json:"timestamp"`
	Positions pose.ConvertedPosition `json:"positions"`
}

//State of a tracking session
type State int32

const (
	Running State = iota
	Completed
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	}

	return fmt.Sprintf("State(%d)", int32(s))
}

//Scheduler starts tracking sessions sharing one detector
type Scheduler struct {
	detector FrameDetector
	clock    clock.Clock
	interval time.Duration
	logger   hclog.Logger
}

//Option customizes a Scheduler
type Option func(*Scheduler)

//WithClock sets the clock ticks are taken from
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

//WithInterval sets the tick interval
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

//WithLogger sets the logger sessions report skipped frames to
func WithLogger(l hclog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

//New returns a scheduler detecting with given detector
func New(detector FrameDetector, opts ...Option) *Scheduler {
	s := &Scheduler{
		detector: detector,
		clock:    clock.New(),
		interval: DefaultInterval,
		logger:   hclog.NewNullLogger(),
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

//Session is one tracking run over one video
type Session struct {
	sched  *Scheduler
	video  Video
	logger hclog.Logger

	frames   chan Frame
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	state State

	//owned by the loop goroutine
	lastTime time.Duration
}

//Start initializes the detector and starts tracking video. An initialization failure is returned and no session
//is started. Cancelling ctx stops the session.
func (s *Scheduler) Start(ctx context.Context, video Video) (*Session, error) {
	if err := s.detector.Initialize(ctx); err != nil {
		return nil, err
	}

	sess := s.newSession(video)
	go sess.run(ctx)

	return sess, nil
}

//Track is Start with callbacks: onFrame receives every frame in order, onComplete runs once when the video ends.
//Neither runs after the session has been stopped.
func (s *Scheduler) Track(ctx context.Context, video Video, onFrame func(Frame), onComplete func()) (*Session, error) {
	sess, err := s.Start(ctx, video)
	if err != nil {
		return nil, err
	}

	go func() {
		for f := range sess.frames {
			if onFrame != nil && sess.State() != Stopped {
				onFrame(f)
			}
		}
		if onComplete != nil && sess.State() == Completed {
			onComplete()
		}
	}()

	return sess, nil
}

func (s *Scheduler) newSession(video Video) *Session {
	return &Session{
		sched:    s,
		video:    video,
		logger:   s.logger,
		frames:   make(chan Frame),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		lastTime: -1,
	}
}

//Frames delivers tracked frames. It is closed when the session ends.
func (sess *Session) Frames() <-chan Frame {
	return sess.frames
}

//Done is closed once the session has ended and Frames is closed
func (sess *Session) Done() <-chan struct{} {
	return sess.done
}

//State returns the current state
func (sess *Session) State() State {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.state
}

//Stop ends the session on its next tick. It can be called any number of times, also after completion.
func (sess *Session) Stop() {
	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		if sess.state == Running {
			sess.state = Stopped
		}
		sess.mu.Unlock()
		close(sess.stop)
	})
}

//finish moves a running session to a terminal state; a session already ended keeps its state
func (sess *Session) finish(state State) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == Running {
		sess.state = state
	}
}

func (sess *Session) run(ctx context.Context) {
	defer close(sess.done)
	defer close(sess.frames)

	ticker := sess.sched.clock.Ticker(sess.sched.interval)
	defer ticker.Stop()

	if !sess.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			sess.finish(Stopped)
			return
		case <-sess.stop:
			sess.finish(Stopped)
			return
		case <-ticker.C:
			if !sess.tick(ctx) {
				return
			}
		}
	}
}

//tick performs one scheduling step. It returns false once the session is over.
func (sess *Session) tick(ctx context.Context) bool {
	select {
	case <-sess.stop:
		sess.finish(Stopped)
		return false
	case <-ctx.Done():
		sess.finish(Stopped)
		return false
	default:
	}

	if sess.video.Ended() {
		sess.finish(Completed)
		return false
	}

	now := sess.video.CurrentTime()
	if now == sess.lastTime {
		return true
	}
	sess.lastTime = now

	if sess.video.Paused() || now <= 0 {
		return true
	}

	frame, err := sess.video.Frame()
	if err != nil {
		sess.logger.Warn("could not read video frame, skipping", "position", now, "error", err)
		return true
	}

	res, err := sess.sched.detector.DetectVideoFrame(ctx, frame)
	if err != nil {
		sess.logger.Warn("error processing video frame, skipping", "position", now, "error", err)
		return true
	}

	positions, err := pose.WorldPositions(res)
	if err != nil {
		sess.logger.Trace("no body in video frame", "position", now)
		return true
	}

	select {
	case sess.frames <- Frame{Timestamp: now, Positions: positions}:
		return true
	case <-sess.stop:
		sess.finish(Stopped)
		return false
	case <-ctx.Done():
		sess.finish(Stopped)
		return false
	}
}
