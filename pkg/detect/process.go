package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//ProcessOptions locate the external mediapipe worker
type ProcessOptions struct {
	Python      string
	Script      string
	CallTimeout time.Duration
}

const (
	defaultCallTimeout = 10 * time.Second
	processStopTimeout = 5 * time.Second
	maxResponseLine    = 4 << 20
)

type processInitOptions struct {
	ModelAssetPath             string  `json:"model_asset_path"`
	Delegate                   string  `json:"delegate"`
	RunningMode                string  `json:"running_mode"`
	NumPoses                   int     `json:"num_poses"`
	MinPoseDetectionConfidence float64 `json:"min_pose_detection_confidence"`
	MinPosePresenceConfidence  float64 `json:"min_pose_presence_confidence"`
	MinTrackingConfidence      float64 `json:"min_tracking_confidence"`
	OutputSegmentationMasks    bool    `json:"output_segmentation_masks"`
}

type processRequest struct {
	Op          string              `json:"op"`
	Options     *processInitOptions `json:"options,omitempty"`
	Mode        string              `json:"mode,omitempty"`
	Image       string              `json:"image,omitempty"`
	TimestampMs int64               `json:"timestamp_ms,omitempty"`
}

type processResponse struct {
	OK     bool         `json:"ok"`
	Error  string       `json:"error,omitempty"`
	Result *pose.Result `json:"result,omitempty"`
}

//ProcessLandmarker talks to a python mediapipe PoseLandmarker worker. Each request is one JSON line on the worker's
//standard input, each reply one JSON line on its standard output. Any other output line is treated as a log print.
type ProcessLandmarker struct {
	logger      hclog.Logger
	stdin       io.WriteCloser
	lines       chan []byte
	done        chan struct{}
	stop        func() error
	callTimeout time.Duration

	mu      sync.Mutex
	broken  error
	mode    Mode
	lastMs  int64
	stamped bool
	closed  bool
}

//NewProcessFactory returns a Factory that starts one worker process per landmarker
func NewProcessFactory(proc ProcessOptions, logger hclog.Logger) Factory {
	return func(ctx context.Context, opts Options) (Landmarker, error) {
		cmd := exec.Command(proc.Python, proc.Script)
		cmd.Stderr = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("NewProcessFactory: could not get worker's standard input, got '%w'", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("NewProcessFactory: could not get worker's standard output, got '%w'", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("NewProcessFactory: could not start '%s %s', got '%w'", proc.Python, proc.Script, err)
		}
		logger.Debug("landmarker worker started", "pid", cmd.Process.Pid)

		stop := func() error {
			waitC := make(chan error, 1)
			go func() { waitC <- cmd.Wait() }()
			select {
			case err := <-waitC:
				return err
			case <-time.After(processStopTimeout):
				return multierr.Append(errors.New("landmarker worker did not exit, killing it"), cmd.Process.Kill())
			}
		}

		lm := newProcessLandmarker(stdin, stdout, stop, proc.CallTimeout, logger)
		if err := lm.init(ctx, opts); err != nil {
			return nil, multierr.Append(err, lm.Close())
		}

		return lm, nil
	}
}

func newProcessLandmarker(stdin io.WriteCloser, stdout io.Reader, stop func() error, callTimeout time.Duration, logger hclog.Logger) *ProcessLandmarker {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	p := &ProcessLandmarker{
		logger:      logger,
		stdin:       stdin,
		lines:       make(chan []byte),
		done:        make(chan struct{}),
		stop:        stop,
		callTimeout: callTimeout,
	}
	go p.readLoop(stdout)

	return p
}

//readLoop is the only reader of the worker's output. It closes lines when the output ends.
func (p *ProcessLandmarker) readLoop(stdout io.Reader) {
	defer close(p.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' { //log print from the worker, skip it
			p.logger.Debug("worker output", "line", string(line))
			continue
		}

		select {
		case p.lines <- append([]byte(nil), line...):
		case <-p.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Error("reading worker output", "error", err)
	}
}

func (p *ProcessLandmarker) init(ctx context.Context, opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mode = opts.RunningMode
	_, err := p.call(ctx, processRequest{
		Op: "init",
		Options: &processInitOptions{
			ModelAssetPath:             opts.ModelPath,
			Delegate:                   strings.ToUpper(opts.Delegate),
			RunningMode:                opts.RunningMode.String(),
			NumPoses:                   opts.NumPoses,
			MinPoseDetectionConfidence: opts.MinPoseDetectionConfidence,
			MinPosePresenceConfidence:  opts.MinPosePresenceConfidence,
			MinTrackingConfidence:      opts.MinTrackingConfidence,
		},
	})

	return err
}

//call sends one request and waits for its reply. A reply that does not arrive in time leaves the stream out of
//sync, so the landmarker is marked broken. Callers hold p.mu.
func (p *ProcessLandmarker) call(ctx context.Context, req processRequest) (*processResponse, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.broken != nil {
		return nil, p.broken
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(append(b, '\n')); err != nil {
		p.broken = fmt.Errorf("writing to landmarker worker: %w", err)
		return nil, p.broken
	}

	select {
	case line, ok := <-p.lines:
		if !ok {
			p.broken = fmt.Errorf("landmarker worker exited: %w", io.ErrUnexpectedEOF)
			return nil, p.broken
		}

		resp := &processResponse{}
		if err := json.Unmarshal(line, resp); err != nil {
			p.broken = fmt.Errorf("malformed worker reply: %w", err)
			return nil, p.broken
		}
		if !resp.OK {
			return nil, fmt.Errorf("worker '%s': %s", req.Op, resp.Error)
		}

		return resp, nil
	case <-ctx.Done():
		p.broken = fmt.Errorf("landmarker worker did not answer '%s': %w", req.Op, ctx.Err())
		return nil, p.broken
	}
}

//SetMode switches the worker's running mode. Entering video mode starts a new timestamp sequence.
func (p *ProcessLandmarker) SetMode(ctx context.Context, mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == mode && p.broken == nil && !p.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	if _, err := p.call(ctx, processRequest{Op: "mode", Mode: mode.String()}); err != nil {
		return err
	}
	p.mode = mode
	p.stamped = false

	return nil
}

//Detect runs single image detection
func (p *ProcessLandmarker) Detect(img image.Image) (*pose.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeImage {
		return nil, fmt.Errorf("Detect: landmarker is in %s mode", p.mode)
	}

	encoded, err := encodeFrame(img)
	if err != nil {
		return nil, err
	}

	return p.detect(processRequest{Op: "detect", Image: encoded})
}

//DetectForVideo runs video detection. The worker needs strictly increasing millisecond timestamps.
func (p *ProcessLandmarker) DetectForVideo(frame image.Image, timestamp time.Duration) (*pose.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeVideo {
		return nil, fmt.Errorf("DetectForVideo: landmarker is in %s mode", p.mode)
	}

	ms := timestamp.Milliseconds()
	if p.stamped && ms <= p.lastMs {
		ms = p.lastMs + 1
	}

	encoded, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	res, err := p.detect(processRequest{Op: "detect_video", Image: encoded, TimestampMs: ms})
	if err != nil {
		return nil, err
	}
	p.lastMs, p.stamped = ms, true

	return res, nil
}

func (p *ProcessLandmarker) detect(req processRequest) (*pose.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.callTimeout)
	defer cancel()

	resp, err := p.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return &pose.Result{}, nil
	}

	return resp.Result, nil
}

//Close ends the worker by closing its standard input and waits for it to exit
func (p *ProcessLandmarker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	err := p.stdin.Close()
	if p.stop != nil {
		err = multierr.Append(err, p.stop())
	}

	return err
}

func encodeFrame(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("encodeFrame: nil frame")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("encodeFrame: could not encode frame, got '%w'", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
