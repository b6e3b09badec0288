//Package dnn runs a BlazePose landmark network through the OpenCV DNN module
package dnn

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/chenBenjamin97/pose-tracker/pkg/detect"
	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//BlazePose landmark network layout: 256x256 RGB input in [0,1], 39 screen landmarks of 5 values
//(x, y, z, visibility, presence), a pose flag and 39 world landmarks of 3 values. Only the first 33 are joints.
const (
	netInputSize       = 256
	netLandmarks       = 39
	netScreenValues    = 5
	netWorldValues     = 3
	netScreenLayer     = "Identity"
	netPoseFlagLayer   = "Identity_1"
	netWorldLayer      = "Identity_4"
	minVisibleJointVal = 1e-6
)

//NetLandmarker runs a BlazePose landmark model with the OpenCV DNN module
type NetLandmarker struct {
	mu   sync.Mutex
	net  gocv.Net
	opts detect.Options
	mode detect.Mode

	tracking  bool
	lastStamp time.Duration
	stamped   bool
}

//NewFactory returns a detect.Factory loading the model at Options.ModelPath with gocv
func NewFactory() detect.Factory {
	return func(ctx context.Context, opts detect.Options) (detect.Landmarker, error) {
		return NewNetLandmarker(ctx, opts)
	}
}

//NewNetLandmarker loads the landmark network and prepares it for the configured delegate
func NewNetLandmarker(ctx context.Context, opts detect.Options) (*NetLandmarker, error) {
	backend, target, err := netTarget(opts.Delegate)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("NewNetLandmarker: could not load model '%s'", opts.ModelPath)
	}

	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("NewNetLandmarker: backend for delegate '%s', got '%w'", opts.Delegate, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("NewNetLandmarker: target for delegate '%s', got '%w'", opts.Delegate, err)
	}

	return &NetLandmarker{net: net, opts: opts, mode: opts.RunningMode}, nil
}

//SetMode switches the running mode. Any tracking state is dropped.
func (n *NetLandmarker) SetMode(_ context.Context, mode detect.Mode) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mode = mode
	n.tracking = false
	n.stamped = false

	return nil
}

//Detect runs one independent detection
func (n *NetLandmarker) Detect(img image.Image) (*pose.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mode != detect.ModeImage {
		return nil, fmt.Errorf("Detect: landmarker is in %s mode", n.mode)
	}

	return n.run(img, n.opts.MinPoseDetectionConfidence)
}

//DetectForVideo detects on a video frame. While a body is tracked the lower of the detection and tracking
//thresholds applies, losing the body falls back to the detection threshold.
func (n *NetLandmarker) DetectForVideo(frame image.Image, timestamp time.Duration) (*pose.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mode != detect.ModeVideo {
		return nil, fmt.Errorf("DetectForVideo: landmarker is in %s mode", n.mode)
	}
	if n.stamped && timestamp <= n.lastStamp {
		return nil, fmt.Errorf("DetectForVideo: timestamp %v is not after %v", timestamp, n.lastStamp)
	}
	n.lastStamp, n.stamped = timestamp, true

	threshold := n.opts.MinPoseDetectionConfidence
	if n.tracking {
		threshold = n.opts.MinTrackingConfidence
	}

	res, err := n.run(frame, threshold)
	if err != nil {
		return nil, err
	}
	n.tracking = res.HasLandmarks()

	return res, nil
}

func (n *NetLandmarker) run(img image.Image, threshold float64) (*pose.Result, error) {
	if img == nil {
		return nil, errors.New("run: nil frame")
	}

	square, lb := letterbox(img)
	mat, err := gocv.ImageToMatRGB(square)
	if err != nil {
		return nil, fmt.Errorf("run: could not convert frame, got '%w'", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255, image.Pt(netInputSize, netInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	outs := n.net.ForwardLayers([]string{netScreenLayer, netPoseFlagLayer, netWorldLayer})
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) != 3 {
		return nil, fmt.Errorf("run: expected 3 outputs, got %d", len(outs))
	}

	screen, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	flag, err := outs[1].DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	world, err := outs[2].DataPtrFloat32()
	if err != nil {
		return nil, err
	}

	return decodeOutputs(screen, flag, world, lb, threshold, n.opts.MinPosePresenceConfidence)
}

//letterboxInfo maps the padded square back to the source frame
type letterboxInfo struct {
	side, padX, padY, width, height float64
}

//letterbox pads img with black to a square so the network sees undistorted proportions
func letterbox(img image.Image) (image.Image, letterboxInfo) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h > side {
		side = h
	}

	canvas := imaging.New(side, side, color.Black)
	canvas = imaging.PasteCenter(canvas, img)

	return canvas, letterboxInfo{
		side:   float64(side),
		padX:   float64(side-w) / 2,
		padY:   float64(side-h) / 2,
		width:  float64(w),
		height: float64(h),
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

//score turns a raw network value into a probability; values already in [0,1] are kept
func score(v float32) float64 {
	f := float64(v)
	if f >= 0 && f <= 1 {
		return f
	}

	return sigmoid(f)
}

//decodeOutputs builds a result from raw network outputs. It returns an empty result when the pose flag is under
//threshold or the mean presence of the joints is under minPresence.
func decodeOutputs(screen, flag, world []float32, lb letterboxInfo, threshold, minPresence float64) (*pose.Result, error) {
	if len(screen) < netLandmarks*netScreenValues || len(world) < netLandmarks*netWorldValues || len(flag) < 1 {
		return nil, fmt.Errorf("decodeOutputs: unexpected output sizes %d/%d/%d", len(screen), len(flag), len(world))
	}

	if score(flag[0]) < threshold {
		return &pose.Result{}, nil
	}

	landmarks := make(pose.SkeletonPose, pose.NumJoints)
	worldLandmarks := make(pose.SkeletonPose, pose.NumJoints)
	presenceSum := 0.0

	for i := 0; i < pose.NumJoints; i++ {
		s := screen[i*netScreenValues : (i+1)*netScreenValues]
		visibility := sigmoid(float64(s[3]))
		presence := sigmoid(float64(s[4]))
		presenceSum += presence

		//network pixels -> padded square pixels -> normalized source frame
		px := float64(s[0]) / netInputSize * lb.side
		py := float64(s[1]) / netInputSize * lb.side
		landmarks[i] = pose.Landmark{
			X:          (px - lb.padX) / math.Max(lb.width, minVisibleJointVal),
			Y:          (py - lb.padY) / math.Max(lb.height, minVisibleJointVal),
			Z:          float64(s[2]) / netInputSize,
			Visibility: visibility,
			Presence:   presence,
		}

		wv := world[i*netWorldValues : (i+1)*netWorldValues]
		worldLandmarks[i] = pose.Landmark{
			X:          float64(wv[0]),
			Y:          float64(wv[1]),
			Z:          float64(wv[2]),
			Visibility: visibility,
			Presence:   presence,
		}
	}

	if presenceSum/pose.NumJoints < minPresence {
		return &pose.Result{}, nil
	}

	return &pose.Result{
		Landmarks:      []pose.SkeletonPose{landmarks},
		WorldLandmarks: []pose.SkeletonPose{worldLandmarks},
	}, nil
}

//Close releases the network
func (n *NetLandmarker) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.net.Close()
}

//netTarget maps a delegate name to the OpenCV DNN backend and target
func netTarget(delegate string) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch strings.ToUpper(delegate) {
	case "", "CPU":
		return gocv.NetBackendDefault, gocv.NetTargetCPU, nil
	case "GPU", "CUDA":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case "OPENCL":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32, nil
	case "VULKAN":
		return gocv.NetBackendVKCOM, gocv.NetTargetVulkan, nil
	}

	return 0, 0, fmt.Errorf("unknown delegate '%s'", delegate)
}
