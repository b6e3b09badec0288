package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

const defaultInitTimeout = 60 * time.Second

//Detector owns the process wide landmarker. It loads it lazily, once, and serializes every detection so the
//image/video mode switch of DetectImage can never interleave with a video frame.
type Detector struct {
	factory     Factory
	opts        Options
	initTimeout time.Duration
	envCheck    func() error
	clock       clock.Clock
	logger      hclog.Logger

	initGroup singleflight.Group

	mu         sync.Mutex // guards landmarker and closed
	landmarker Landmarker
	closed     bool

	detectMu  sync.Mutex // held for the whole of a detection, including mode switches
	epoch     time.Time
	lastStamp time.Duration
}

//Option customizes a Detector
type Option func(*Detector)

//WithInitTimeout bounds how long Initialize waits for the factory
func WithInitTimeout(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.initTimeout = d
		}
	}
}

//WithEnvironmentCheck sets the check run by Supported and before the first initialization
func WithEnvironmentCheck(check func() error) Option {
	return func(det *Detector) {
		det.envCheck = check
	}
}

//WithClock sets the clock video frame timestamps are taken from
func WithClock(c clock.Clock) Option {
	return func(det *Detector) {
		det.clock = c
	}
}

//WithLogger sets the detector's logger
func WithLogger(l hclog.Logger) Option {
	return func(det *Detector) {
		det.logger = l
	}
}

//NewDetector returns a detector that creates its landmarker with factory on first use
func NewDetector(factory Factory, opts Options, options ...Option) *Detector {
	d := &Detector{
		factory:     factory,
		opts:        opts.withDefaults(),
		initTimeout: defaultInitTimeout,
		clock:       clock.New(),
		logger:      hclog.NewNullLogger(),
	}
	for _, o := range options {
		o(d)
	}
	d.epoch = d.clock.Now()

	return d
}

//Supported reports ErrUnsupportedEnvironment when this host cannot run the landmarker
func (d *Detector) Supported() error {
	if d.envCheck == nil {
		return nil
	}

	if err := d.envCheck(); err != nil {
		if errors.Is(err, ErrUnsupportedEnvironment) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnsupportedEnvironment, err)
	}

	return nil
}

//Initialize loads the landmarker if it is not loaded yet. Concurrent callers wait on the same load,
//which is bounded by the init timeout only: a caller whose ctx ends stops waiting without failing the others.
//A failed load is returned to every waiter and may be retried by a later call.
func (d *Detector) Initialize(ctx context.Context) error {
	if _, err := d.current(); err == nil || errors.Is(err, ErrClosed) {
		return err
	}

	loadCtx := context.WithoutCancel(ctx)
	resC := d.initGroup.DoChan("init", func() (interface{}, error) {
		if lm, err := d.current(); err == nil || errors.Is(err, ErrClosed) {
			return lm, err
		}

		if err := d.Supported(); err != nil {
			return nil, err
		}

		initCtx, cancel := context.WithTimeout(loadCtx, d.initTimeout)
		defer cancel()

		start := d.clock.Now()
		d.logger.Info("loading pose landmarker", "model", d.opts.ModelPath, "delegate", d.opts.Delegate)

		lm, err := d.factory(initCtx, d.opts)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(initCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", ErrInitTimeout, err)
			} else if !errors.Is(err, ErrInitialization) {
				err = fmt.Errorf("%w: %w", ErrInitialization, err)
			}
			d.logger.Error("could not load pose landmarker", "error", err)
			return nil, err
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			lm.Close()
			return nil, ErrClosed
		}
		d.landmarker = lm
		d.logger.Info("pose landmarker ready", "took", d.clock.Since(start))

		return lm, nil
	})

	select {
	case res := <-resC:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Detector) current() (Landmarker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.landmarker == nil {
		return nil, errNotLoaded
	}

	return d.landmarker, nil
}

var errNotLoaded = errors.New("landmarker not loaded")

//DetectImage runs exactly one detection on a still image. The landmarker is switched to image mode for the call
//and back to video mode before returning, whatever the outcome. A result without landmarks is ErrNoLandmarks.
func (d *Detector) DetectImage(ctx context.Context, img image.Image) (res *pose.Result, err error) {
	if img == nil {
		return nil, ErrUserCancelled
	}

	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}

	d.detectMu.Lock()
	defer d.detectMu.Unlock()

	lm, err := d.current()
	if err != nil {
		return nil, err
	}

	defer func() {
		if restoreErr := lm.SetMode(context.WithoutCancel(ctx), ModeVideo); restoreErr != nil {
			d.logger.Error("could not restore video mode", "error", restoreErr)
			if err == nil {
				res, err = nil, fmt.Errorf("%w: restoring video mode: %w", ErrDetection, restoreErr)
			}
		}
	}()

	if err := lm.SetMode(ctx, ModeImage); err != nil {
		return nil, fmt.Errorf("%w: switching to image mode: %w", ErrDetection, err)
	}

	res, err = lm.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if !res.HasLandmarks() {
		return nil, ErrNoLandmarks
	}

	return res, nil
}

//DetectVideoFrame runs one video mode detection. Frames are stamped by the detector so timestamps stay strictly
//increasing across every caller sharing the landmarker.
func (d *Detector) DetectVideoFrame(ctx context.Context, frame image.Image) (*pose.Result, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}

	d.detectMu.Lock()
	defer d.detectMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm, err := d.current()
	if err != nil {
		return nil, err
	}

	stamp := d.clock.Since(d.epoch)
	if stamp <= d.lastStamp {
		stamp = d.lastStamp + time.Millisecond
	}
	d.lastStamp = stamp

	res, err := lm.DetectForVideo(frame, stamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}

	return res, nil
}

//Close releases the landmarker. Further calls return ErrClosed.
func (d *Detector) Close() error {
	d.detectMu.Lock()
	defer d.detectMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.landmarker == nil {
		return nil
	}
	lm := d.landmarker
	d.landmarker = nil

	return lm.Close()
}
