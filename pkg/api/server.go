package api

import (
	"context"
	"errors"
	"image"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/chenBenjamin97/pose-tracker/pkg/config"
	"github.com/chenBenjamin97/pose-tracker/pkg/detect"
	"github.com/chenBenjamin97/pose-tracker/pkg/editor"
	"github.com/chenBenjamin97/pose-tracker/pkg/i18n"
	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
	"github.com/chenBenjamin97/pose-tracker/pkg/tracker"
	"github.com/chenBenjamin97/pose-tracker/pkg/utils"
	"github.com/chenBenjamin97/pose-tracker/pkg/video"
)

//PoseDetector is the detection surface the server uses
type PoseDetector interface {
	tracker.FrameDetector
	DetectImage(ctx context.Context, img image.Image) (*pose.Result, error)
	Supported() error
}

//PlayableVideo is a video the server plays and tracks
type PlayableVideo interface {
	tracker.Video
	Play()
	Pause()
	Close() error
}

//VideoOpener opens a video file on a playback clock
type VideoOpener func(path string, clk clock.Clock) (PlayableVideo, error)

const defaultSessionRetention = 5 * time.Minute

//Tracer writes the trace of srcPath to outPath
type Tracer func(ctx context.Context, srcPath, outPath string) error

//Server holds what the HTTP handlers share
type Server struct {
	cfg        *config.Config
	detector   PoseDetector
	translator *i18n.Translator
	logger     hclog.Logger
	clock      clock.Clock
	hub        *editor.Hub
	scheduler  *tracker.Scheduler
	openVideo  VideoOpener
	trace      Tracer
	retention  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	traces sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*trackingSession
}

type trackingSession struct {
	id      string
	name    string
	video   PlayableVideo
	session *tracker.Session
}

//Option customizes a Server
type Option func(*Server)

//WithClock sets the clock videos play and sessions tick on
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

//WithVideoOpener replaces how tracked videos are opened
func WithVideoOpener(open VideoOpener) Option {
	return func(s *Server) {
		s.openVideo = open
	}
}

//WithTracer replaces how uploads are traced
func WithTracer(trace Tracer) Option {
	return func(s *Server) {
		s.trace = trace
	}
}

//NewServer returns a server detecting with detector
func NewServer(cfg *config.Config, detector PoseDetector, translator *i18n.Translator, logger hclog.Logger, options ...Option) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		cfg:        cfg,
		detector:   detector,
		translator: translator,
		logger:     logger,
		clock:      clock.New(),
		retention:  cfg.Tracker.SessionRetention,
		sessions:   make(map[string]*trackingSession),
	}
	s.openVideo = func(path string, clk clock.Clock) (PlayableVideo, error) {
		vid, err := video.OpenCapture(path, clk)
		if err != nil {
			return nil, err
		}
		return vid, nil
	}
	s.trace = func(ctx context.Context, srcPath, outPath string) error {
		return video.Trace(ctx, s.detector, srcPath, outPath, video.TraceOptions{Logger: s.logger.Named("trace")})
	}
	for _, o := range options {
		o(s)
	}
	if s.retention <= 0 {
		s.retention = defaultSessionRetention
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.hub = editor.NewHub(logger.Named("editor"))
	s.scheduler = tracker.New(detector,
		tracker.WithClock(s.clock),
		tracker.WithInterval(cfg.Tracker.FrameInterval),
		tracker.WithLogger(logger.Named("tracker")),
	)

	return s
}

//Hub returns the editor hub
func (s *Server) Hub() *editor.Hub {
	return s.hub
}

//Close stops every tracking session and waits for running traces
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	sessions := make([]*trackingSession, 0, len(s.sessions))
	for id, ts := range s.sessions {
		sessions = append(sessions, ts)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, ts := range sessions {
		s.endSession(ts)
	}
	s.traces.Wait()
}

//startTracking plays the named source video and tracks it until it ends
func (s *Server) startTracking(ctx context.Context, name string) (*trackingSession, error) {
	vid, err := s.openVideo(filepath.Join(s.cfg.Directory.Source, name), s.clock)
	if err != nil {
		return nil, err
	}

	if err := s.detector.Initialize(ctx); err != nil {
		vid.Close()
		return nil, err
	}

	ts := &trackingSession{id: uuid.NewString(), name: name, video: vid}
	//the session outlives the request that starts it
	sess, err := s.scheduler.Track(s.ctx, vid,
		func(f tracker.Frame) {
			if err := s.hub.PublishFrame(s.ctx, ts.id, f); err != nil {
				s.logger.Debug("could not publish frame", "session", ts.id, "error", err)
			}
		},
		func() {
			s.hub.Complete(ts.id)
			s.logger.Info("tracking completed", "session", ts.id, "video", name)
		},
	)
	if err != nil {
		vid.Close()
		return nil, err
	}
	ts.session = sess

	s.mu.Lock()
	s.sessions[ts.id] = ts
	s.mu.Unlock()

	go func() {
		<-sess.Done()
		if err := vid.Close(); err != nil {
			s.logger.Warn("could not close video", "session", ts.id, "error", err)
		}
		s.reap(ts)
	}()

	vid.Play()
	s.logger.Info("tracking started", "session", ts.id, "video", name)

	return ts, nil
}

func (s *Server) session(id string) (*trackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sessions[id]
	return ts, ok
}

func (s *Server) removeSession(id string) (*trackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sessions[id]
	delete(s.sessions, id)
	return ts, ok
}

//reap forgets a finished session and detaches its editors once the retention period is over
func (s *Server) reap(ts *trackingSession) {
	select {
	case <-s.clock.After(s.retention):
	case <-s.ctx.Done():
		return
	}

	if _, ok := s.removeSession(ts.id); ok {
		s.hub.Close(ts.id)
		s.logger.Debug("tracking session forgotten", "session", ts.id, "state", ts.session.State().String())
	}
}

func (s *Server) endSession(ts *trackingSession) {
	ts.session.Stop()
	<-ts.session.Done()
	s.hub.Close(ts.id)
}

//traceUpload traces a freshly uploaded video into the ready directory in the background
func (s *Server) traceUpload(name string) {
	srcPath := filepath.Join(s.cfg.Directory.Source, name)
	outPath := filepath.Join(s.cfg.Directory.Ready, utils.TrimExt(name)+".json")

	s.traces.Add(1)
	go func() {
		defer s.traces.Done()

		if err := s.trace(s.ctx, srcPath, outPath); err != nil {
			s.logger.Error("could not trace video", "video", name, "error", err)
			return
		}
		s.logger.Info("video traced", "video", name, "trace", outPath)
	}()
}

//classify maps an error to its status code and message
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, detect.ErrUserCancelled):
		return http.StatusNoContent, ""
	case errors.Is(err, detect.ErrUnsupportedEnvironment):
		return http.StatusNotImplemented, i18n.MsgUnsupported
	case errors.Is(err, detect.ErrInitTimeout):
		return http.StatusServiceUnavailable, i18n.MsgInitTimeout
	case errors.Is(err, detect.ErrInitialization):
		return http.StatusServiceUnavailable, i18n.MsgInitFailed
	case errors.Is(err, detect.ErrNoLandmarks):
		return http.StatusUnprocessableEntity, i18n.MsgNoBody
	case errors.Is(err, detect.ErrDetection):
		return http.StatusUnprocessableEntity, i18n.MsgDetectionFailed
	}

	return http.StatusInternalServerError, i18n.MsgInternal
}

//abort answers the request with the localized form of err. A cancelled selection is answered silently.
func (s *Server) abort(ctx *gin.Context, err error) {
	status, msgID := classify(err)
	if status == http.StatusNoContent {
		ctx.AbortWithStatus(status)
		return
	}

	ctx.Error(err)
	s.reject(ctx, status, msgID, nil)
}

//reject answers the request with a localized message
func (s *Server) reject(ctx *gin.Context, status int, msgID string, data map[string]interface{}) {
	ctx.AbortWithStatusJSON(status, gin.H{
		"code":  msgID,
		"error": s.translator.Localize(i18n.RequestLanguages(ctx.Request), msgID, data),
	})
}
